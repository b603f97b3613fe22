package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/resilience"
	"github.com/sells-group/leadtool/internal/store"
)

// Outcome is what Apply did to the canonical entity.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeMerged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeMerged:
		return "merged"
	}
	return "unknown"
}

// Result describes one applied record.
type Result struct {
	Outcome   Outcome
	CompanyID int64
	ContactID *int64
	Changed   bool
	Snapshot  *company.Snapshot
}

// Upserter applies normalized records to the store, one transaction per
// record.
type Upserter struct {
	store    store.Store
	resolver Resolver
	retry    resilience.RetryConfig
}

// NewUpserter returns an Upserter. Transient store errors and lost insert
// races are retried according to retry.
func NewUpserter(st store.Store, retry resilience.RetryConfig) *Upserter {
	retry.ShouldRetry = shouldRetryUpsert
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("ingest", "upsert")
	}
	return &Upserter{store: st, retry: retry}
}

// shouldRetryUpsert retries transient store failures and unique violations.
// A unique violation means a concurrent writer created the entity first; the
// next attempt resolves it and merges instead.
func shouldRetryUpsert(err error) bool {
	return model.IsTransient(err) || errors.Is(err, store.ErrDuplicate)
}

// Apply merges rec into its canonical entity, or creates it, and records a
// snapshot of obs for period. Everything happens in one transaction; a
// failure rolls back only this record.
func (u *Upserter) Apply(ctx context.Context, rec Record, obs model.Observation, period model.Period) (Result, error) {
	payload, err := obs.Payload()
	if err != nil {
		return Result{}, &model.ValidationError{Kind: rec.Kind, Field: "data", Reason: err.Error()}
	}

	return resilience.DoVal(ctx, u.retry, func(ctx context.Context) (Result, error) {
		var res Result
		err := u.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			switch rec.Kind {
			case model.KindOrganization:
				res, err = u.applyCompany(ctx, tx, rec.Company)
			case model.KindContact:
				res, err = u.applyContact(ctx, tx, rec.Contact)
			default:
				return &model.ValidationError{Kind: rec.Kind, Field: "kind", Reason: "unknown record kind"}
			}
			if err != nil {
				return err
			}

			snap := &company.Snapshot{
				CompanyID: res.CompanyID,
				ContactID: res.ContactID,
				Period:    period,
				Kind:      rec.Kind,
				Payload:   payload,
				SourceURL: obs.SourceURL,
				QueryName: obs.QueryName,
			}
			if err := RecordSnapshot(ctx, tx, snap); err != nil {
				return err
			}
			res.Snapshot = snap
			return nil
		})
		return res, err
	})
}

func (u *Upserter) applyCompany(ctx context.Context, tx store.Tx, in company.CompanyFields) (Result, error) {
	existing, err := u.resolver.ResolveCompany(ctx, tx, in)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		c := company.NewCompany(in)
		if err := tx.CreateCompany(ctx, c); err != nil {
			return Result{}, err
		}
		zap.L().Debug("ingest: created company", zap.Int64("company_id", c.ID), zap.String("name", c.Name))
		return Result{Outcome: OutcomeCreated, CompanyID: c.ID, Changed: true}, nil
	}

	changed := company.MergeCompany(existing, in)
	if err := tx.UpdateCompany(ctx, existing); err != nil {
		return Result{}, err
	}
	zap.L().Debug("ingest: merged company",
		zap.Int64("company_id", existing.ID),
		zap.String("name", existing.Name),
		zap.Bool("changed", changed),
	)
	return Result{Outcome: OutcomeMerged, CompanyID: existing.ID, Changed: changed}, nil
}

func (u *Upserter) applyContact(ctx context.Context, tx store.Tx, in company.ContactFields) (Result, error) {
	owner, err := u.resolver.ResolveOwner(ctx, tx, in)
	if err != nil {
		return Result{}, err
	}
	if owner == nil {
		orphan := &model.OrphanRecordError{CompanyName: in.CompanyName}
		if in.CompanyAddress != nil {
			orphan.CompanyAddress = *in.CompanyAddress
		}
		return Result{}, orphan
	}

	existing, err := u.resolver.ResolveContact(ctx, tx, in, owner.ID)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		c := company.NewContact(owner.ID, in)
		if err := tx.CreateContact(ctx, c); err != nil {
			return Result{}, err
		}
		id := c.ID
		zap.L().Debug("ingest: created contact", zap.Int64("contact_id", id), zap.Int64("company_id", owner.ID))
		return Result{Outcome: OutcomeCreated, CompanyID: owner.ID, ContactID: &id, Changed: true}, nil
	}

	changed := company.MergeContact(existing, in)
	if err := tx.UpdateContact(ctx, existing); err != nil {
		return Result{}, eris.Wrapf(err, "ingest: update contact %d", existing.ID)
	}
	id := existing.ID
	return Result{Outcome: OutcomeMerged, CompanyID: owner.ID, ContactID: &id, Changed: changed}, nil
}
