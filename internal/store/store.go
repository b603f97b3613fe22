// Package store persists companies, contacts, period snapshots, the run log
// and rejected records, on SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
)

// ErrDuplicate is returned when an insert loses a race against a concurrent
// writer of the same identity key. Retrying the transaction resolves it.
var ErrDuplicate = eris.New("store: duplicate identity key")

// Tx is the per-record unit of work. All calls made through one Tx commit or
// roll back together.
type Tx interface {
	// FindCompany looks up by exact identity key. A nil address only matches
	// companies stored without an address. Not found is (nil, nil).
	FindCompany(ctx context.Context, name string, address *string) (*company.Company, error)
	// FindCompanyByName returns the lowest-id company with that name,
	// whatever its address.
	FindCompanyByName(ctx context.Context, name string) (*company.Company, error)
	CreateCompany(ctx context.Context, c *company.Company) error
	UpdateCompany(ctx context.Context, c *company.Company) error

	FindContact(ctx context.Context, companyID int64, email string) (*company.Contact, error)
	CreateContact(ctx context.Context, c *company.Contact) error
	UpdateContact(ctx context.Context, c *company.Contact) error

	InsertSnapshot(ctx context.Context, s *company.Snapshot) error
}

// Store is the persistence interface for the ingestion engine and the read
// side. Errors that are safe to retry are returned as
// *model.TransientStoreError.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Run-wide snapshot lifecycle. Each call is a single transaction.
	DeactivateSnapshots(ctx context.Context) (int64, error)
	PurgeSnapshotsBefore(ctx context.Context, cutoff model.Period) (int64, error)

	// Run log and run lock.
	AcquireRun(ctx context.Context, run *model.Run, opts LockOptions) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Dead letters.
	RecordRejected(ctx context.Context, rec *model.RejectedRecord) error
	ListRejected(ctx context.Context, runID string, limit int) ([]model.RejectedRecord, error)

	// Read side.
	GetCompany(ctx context.Context, id int64) (*company.Detail, error)
	ListCompanies(ctx context.Context, f company.CompanyFilter) ([]company.Company, error)
	ListContacts(ctx context.Context, f company.ContactFilter) ([]company.Contact, error)
	ListSnapshots(ctx context.Context, f company.SnapshotFilter) ([]company.Snapshot, error)
	CompanyStats(ctx context.Context) (*company.CompanyStats, error)
	ContactStats(ctx context.Context) (*company.ContactStats, error)

	// Operator maintenance.
	ListOrphanCompanies(ctx context.Context, limit int) ([]company.Company, error)
	DeleteCompanies(ctx context.Context, ids []int64) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// LockOptions controls how AcquireRun treats an existing running row.
type LockOptions struct {
	// StaleAfter breaks a lock whose run started longer ago than this.
	// Zero never breaks a lock on age.
	StaleAfter time.Duration
	// Force breaks any existing lock.
	Force bool
}

func (o LockOptions) breaks(startedAt, now time.Time) bool {
	return o.Force || (o.StaleAfter > 0 && now.Sub(startedAt) > o.StaleAfter)
}

// lockBrokenMsg is recorded on a run whose lock was taken over.
const lockBrokenMsg = "run lock broken by a later run"

// activeRunError is returned when another run holds the lock.
func activeRunError(holder string) error {
	return &model.RunStateError{
		Op:  "acquire run lock",
		Err: eris.Wrapf(model.ErrRunActive, "held by run %s", holder),
	}
}
