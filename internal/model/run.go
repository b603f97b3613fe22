package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// RunKind tells ingestion runs apart from maintenance that takes the run
// lock. Reports written before kinds existed decode as ingestion.
type RunKind string

const (
	RunKindIngest  RunKind = "ingest"
	RunKindCleanup RunKind = "cleanup"
	RunKindGC      RunKind = "gc"
)

// Run is one row of the ingestion run log. At most one run is in the
// running state at any time.
type Run struct {
	ID         string     `json:"id"`
	Period     Period     `json:"period"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Report     *RunReport `json:"report,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunReport summarizes the outcome of a run.
type RunReport struct {
	RunID             string    `json:"run_id"`
	Kind              RunKind   `json:"kind,omitempty"`
	Period            Period    `json:"period"`
	Status            RunStatus `json:"status"`
	Created           int64     `json:"created"`
	Merged            int64     `json:"merged"`
	SkippedValidation int64     `json:"skipped_validation"`
	SkippedOrphan     int64     `json:"skipped_orphan"`
	SkippedTransient  int64     `json:"skipped_transient"`
	Abandoned         int64     `json:"abandoned"`
	SnapshotsWritten  int64     `json:"snapshots_written"`
	Deactivated       int64     `json:"deactivated"`
	Purged            int64     `json:"purged"`
	RetentionCutoff   Period    `json:"retention_cutoff,omitzero"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Error             string    `json:"error,omitempty"`
}

// Maintenance reports whether the run was a cleanup or gc pass rather than
// an ingestion.
func (r *RunReport) Maintenance() bool {
	return r.Kind == RunKindCleanup || r.Kind == RunKindGC
}

// KindOf is the kind recorded in the run's report, ingestion when unknown.
func (r Run) KindOf() RunKind {
	if r.Report == nil || r.Report.Kind == "" {
		return RunKindIngest
	}
	return r.Report.Kind
}

// Processed is the number of records that reached a terminal outcome.
func (r *RunReport) Processed() int64 {
	return r.Created + r.Merged + r.Skipped()
}

// Skipped totals every skip bucket, abandoned records included.
func (r *RunReport) Skipped() int64 {
	return r.SkippedValidation + r.SkippedOrphan + r.SkippedTransient + r.Abandoned
}

// RejectReason records why a record did not make it into the store.
type RejectReason string

const (
	RejectValidation RejectReason = "validation"
	RejectOrphan     RejectReason = "orphan"
	RejectTransient  RejectReason = "transient"
	RejectAbandoned  RejectReason = "abandoned"
)

// RejectedRecord is a dead-letter row: the raw observation plus the reason it
// was skipped, kept so operators can inspect or replay it.
type RejectedRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Period    Period          `json:"period"`
	Kind      Kind            `json:"kind"`
	Reason    RejectReason    `json:"reason"`
	Error     string          `json:"error"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SourceURL string          `json:"source_url,omitempty"`
	QueryName string          `json:"query_name,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
