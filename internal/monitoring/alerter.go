package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunAbortRate AlertType = "run_abort_rate"
	AlertSkipRate     AlertType = "record_skip_rate"
	AlertStaleRun     AlertType = "stale_run"
	AlertAbandoned    AlertType = "records_abandoned"
)

// minFinishedRuns is the smallest sample the abort rate is judged on.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a HealthSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *HealthSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsCompleted + snap.RunsAborted
	if a.cfg.AbortRateThreshold > 0 && finished >= minFinishedRuns && snap.AbortRate > a.cfg.AbortRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunAbortRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run abort rate %.1f%% exceeds threshold %.1f%% (%d aborted / %d finished in last %dh)",
				snap.AbortRate*100, a.cfg.AbortRateThreshold*100,
				snap.RunsAborted, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"abort_rate": snap.AbortRate,
				"threshold":  a.cfg.AbortRateThreshold,
				"aborted":    snap.RunsAborted,
				"finished":   finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SkipRateThreshold > 0 && snap.SkipRate > a.cfg.SkipRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSkipRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of records were skipped in last %dh (%d of %d)",
				snap.SkipRate*100, snap.LookbackHours, snap.RecordsSkipped, snap.RecordsProcessed,
			),
			Details: map[string]any{
				"skip_rate": snap.SkipRate,
				"threshold": a.cfg.SkipRateThreshold,
				"skipped":   snap.RecordsSkipped,
				"processed": snap.RecordsProcessed,
			},
			Timestamp: now,
		})
	}

	if snap.RecordsAbandoned > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertAbandoned,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d record(s) were abandoned at the run timeout in last %dh",
				snap.RecordsAbandoned, snap.LookbackHours,
			),
			Details: map[string]any{
				"abandoned": snap.RecordsAbandoned,
			},
			Timestamp: now,
		})
	}

	if snap.StaleRunID != "" {
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run %s has held the run lock for %s",
				snap.StaleRunID, snap.StaleRunAge.Round(time.Minute),
			),
			Details: map[string]any{
				"run_id":      snap.StaleRunID,
				"age_seconds": int64(snap.StaleRunAge.Seconds()),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
