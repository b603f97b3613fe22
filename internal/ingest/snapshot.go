package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/store"
)

// RecordSnapshot appends one active snapshot in tx. It never merges with an
// existing row; every observation is its own point-in-time record.
func RecordSnapshot(ctx context.Context, tx store.Tx, snap *company.Snapshot) error {
	if snap.CompanyID == 0 {
		return eris.New("ingest: snapshot without company")
	}
	if snap.Period.IsZero() {
		return eris.New("ingest: snapshot without period")
	}
	if len(snap.Payload) == 0 {
		snap.Payload = []byte("{}")
	}
	snap.Active = true
	return tx.InsertSnapshot(ctx, snap)
}
