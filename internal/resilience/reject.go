package resilience

import (
	"context"
	"errors"

	"github.com/sells-group/leadtool/internal/model"
)

// Classify maps a per-record failure to the dead-letter reason it is counted
// under. Context expiry counts as abandoned unless the error was already
// classified as a transient store failure.
func Classify(err error) model.RejectReason {
	switch {
	case model.IsValidation(err):
		return model.RejectValidation
	case model.IsOrphan(err):
		return model.RejectOrphan
	case model.IsTransient(err):
		return model.RejectTransient
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.RejectAbandoned
	default:
		return model.RejectTransient
	}
}

// NewRejected builds a dead-letter row for obs.
func NewRejected(runID string, period model.Period, obs model.Observation, err error) *model.RejectedRecord {
	payload, perr := obs.Payload()
	if perr != nil {
		payload = nil
	}
	return &model.RejectedRecord{
		RunID:     runID,
		Period:    period,
		Kind:      obs.Kind,
		Reason:    Classify(err),
		Error:     err.Error(),
		Payload:   payload,
		SourceURL: obs.SourceURL,
		QueryName: obs.QueryName,
	}
}
