package ingest

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/store"
)

// DefaultRetentionDays is the snapshot retention horizon.
const DefaultRetentionDays = 365

const daysPerMonth = 365.0 / 12

// RetentionMonths converts a horizon in days to whole periods, at least one.
func RetentionMonths(days int) int {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	m := int(math.Round(float64(days) / daysPerMonth))
	if m < 1 {
		m = 1
	}
	return m
}

// RetentionCutoff returns the oldest period kept when current is the newest
// one: exactly RetentionMonths(horizonDays) periods survive, current
// included. Snapshots with a period before the cutoff are expired.
func RetentionCutoff(current model.Period, horizonDays int) model.Period {
	return current.AddMonths(-(RetentionMonths(horizonDays) - 1))
}

// Retention deletes expired snapshots. Companies are never deleted here.
type Retention struct {
	store store.Store
}

// NewRetention returns a Retention over st.
func NewRetention(st store.Store) Retention {
	return Retention{store: st}
}

// Purge deletes every snapshot with a period before cutoff in one
// transaction. Running it twice with the same cutoff deletes nothing the
// second time. Failure is returned as a *model.RunStateError.
func (r Retention) Purge(ctx context.Context, cutoff model.Period) (int64, error) {
	if cutoff.IsZero() {
		return 0, &model.RunStateError{Op: "purge snapshots", Err: errZeroCutoff}
	}
	n, err := r.store.PurgeSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return 0, &model.RunStateError{Op: "purge snapshots", Err: err}
	}
	zap.L().Info("ingest: purged expired snapshots",
		zap.String("cutoff", cutoff.String()),
		zap.Int64("count", n),
	)
	return n, nil
}
