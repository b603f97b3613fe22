package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/store"
)

// Lifecycle flips snapshots from active to inactive at the start of a run.
type Lifecycle struct {
	store store.Store
}

// NewLifecycle returns a Lifecycle over st.
func NewLifecycle(st store.Store) Lifecycle {
	return Lifecycle{store: st}
}

// Deactivate marks every active snapshot inactive, whatever its period, in a
// single transaction. Any failure leaves all flags untouched and is returned
// as a *model.RunStateError.
func (l Lifecycle) Deactivate(ctx context.Context) (int64, error) {
	n, err := l.store.DeactivateSnapshots(ctx)
	if err != nil {
		return 0, &model.RunStateError{Op: "deactivate snapshots", Err: err}
	}
	zap.L().Info("ingest: deactivated previous snapshots", zap.Int64("count", n))
	return n, nil
}
