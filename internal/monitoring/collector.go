package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtool/internal/model"
)

// runScanLimit bounds how much of the run log one collection reads. Runs are
// monthly or twice monthly, so this covers years.
const runScanLimit = 500

// HealthSnapshot holds a point-in-time view of ingestion health.
type HealthSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsAborted   int     `json:"runs_aborted"`
	RunsRunning   int     `json:"runs_running"`
	AbortRate     float64 `json:"abort_rate"`

	// Record metrics summed over finished runs in the window.
	RecordsProcessed int64   `json:"records_processed"`
	RecordsSkipped   int64   `json:"records_skipped"`
	RecordsAbandoned int64   `json:"records_abandoned"`
	SkipRate         float64 `json:"skip_rate"`

	// A run still marked running after this long holds the lock but is
	// probably dead.
	StaleRunID  string        `json:"stale_run_id,omitempty"`
	StaleRunAge time.Duration `json:"stale_run_age,omitempty"`

	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`

	// LatestRunID is the newest finished ingestion run in the window. Rate
	// alerts can only change when it does.
	LatestRunID string `json:"latest_run_id,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of the store the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// Collector gathers health metrics from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new health collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window. staleAfter marks
// a running run older than that as stale; zero disables the check.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, staleAfter time.Duration) (*HealthSnapshot, error) {
	now := c.now().UTC()
	snap := &HealthSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.Status == model.RunStatusRunning {
			snap.RunsRunning++
			if age := now.Sub(r.StartedAt); staleAfter > 0 && age > staleAfter {
				snap.StaleRunID, snap.StaleRunAge = r.ID, age
			}
			continue
		}
		if r.KindOf() != model.RunKindIngest {
			continue
		}
		if r.Status == model.RunStatusCompleted && r.FinishedAt != nil &&
			(snap.LastCompletedAt == nil || r.FinishedAt.After(*snap.LastCompletedAt)) {
			finished := *r.FinishedAt
			snap.LastCompletedAt = &finished
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		if snap.LatestRunID == "" {
			snap.LatestRunID = r.ID
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusAborted:
			snap.RunsAborted++
		}
		if r.Report != nil {
			snap.RecordsProcessed += r.Report.Processed()
			snap.RecordsSkipped += r.Report.Skipped()
			snap.RecordsAbandoned += r.Report.Abandoned
		}
	}

	if finished := snap.RunsCompleted + snap.RunsAborted; finished > 0 {
		snap.AbortRate = float64(snap.RunsAborted) / float64(finished)
	}
	if snap.RecordsProcessed > 0 {
		snap.SkipRate = float64(snap.RecordsSkipped) / float64(snap.RecordsProcessed)
	}
	return snap, nil
}
