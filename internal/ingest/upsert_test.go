package ingest

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/store"
)

func mustNormalize(t *testing.T, kind model.Kind, data map[string]any) Record {
	t.Helper()
	rec, err := Normalize(kind, data)
	require.NoError(t, err)
	return rec
}

func TestUpserter_CreateThenMerge(t *testing.T) {
	st := newTestStore(t)
	u := NewUpserter(st, testConfig().Retry)
	ctx := context.Background()

	data := map[string]any{"name": "Acme Co", "address": "1 Main St"}
	obs := org(data)
	res, err := u.Apply(ctx, mustNormalize(t, model.KindOrganization, data), obs, p("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.True(t, res.Changed)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Snapshot.Active)
	assert.Equal(t, res.CompanyID, res.Snapshot.CompanyID)

	res2, err := u.Apply(ctx, mustNormalize(t, model.KindOrganization, data), obs, p("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res2.Outcome)
	assert.False(t, res2.Changed, "same fields change nothing")
	assert.Equal(t, res.CompanyID, res2.CompanyID)
	assert.NotEqual(t, res.Snapshot.ID, res2.Snapshot.ID, "every observation gets its own snapshot")
}

func TestUpserter_OrphanContact(t *testing.T) {
	st := newTestStore(t)
	u := NewUpserter(st, testConfig().Retry)

	data := map[string]any{"email": "jane@acme.example", "company": map[string]any{"name": "Acme Co", "address": "1 Main St"}}
	_, err := u.Apply(context.Background(), mustNormalize(t, model.KindContact, data), contact(data), p("2025-01"))
	require.Error(t, err)

	var orphan *model.OrphanRecordError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, "Acme Co", orphan.CompanyName)
	assert.Equal(t, "1 Main St", orphan.CompanyAddress)
	assert.Empty(t, allSnapshots(t, st), "a failed record leaves nothing behind")
}

func TestUpserter_RetriesLostInsertRace(t *testing.T) {
	st := &faultStore{SQLiteStore: newTestStore(t)}
	var calls int
	st.withTx = func(ctx context.Context, fn func(tx store.Tx) error) error {
		calls++
		if calls == 1 {
			return eris.Wrap(store.ErrDuplicate, "sqlite: insert company")
		}
		return st.SQLiteStore.WithTx(ctx, fn)
	}
	u := NewUpserter(st, testConfig().Retry)

	data := map[string]any{"name": "Acme Co"}
	res, err := u.Apply(context.Background(), mustNormalize(t, model.KindOrganization, data), org(data), p("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 2, calls)
}

func TestUpserter_DoesNotRetryValidation(t *testing.T) {
	st := &faultStore{SQLiteStore: newTestStore(t)}
	var calls int
	st.withTx = func(ctx context.Context, fn func(tx store.Tx) error) error {
		calls++
		return st.SQLiteStore.WithTx(ctx, fn)
	}
	u := NewUpserter(st, testConfig().Retry)

	rec := Record{Kind: model.Kind("vendor")}
	_, err := u.Apply(context.Background(), rec, model.Observation{Kind: rec.Kind}, p("2025-01"))
	assert.True(t, model.IsValidation(err))
	assert.Equal(t, 1, calls)
}

func TestResolver(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	addr := "1 Main St"
	other := "9 Side Rd"

	var withAddr, noAddr *company.Company
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		withAddr = company.NewCompany(company.CompanyFields{Name: "Acme Co", Address: &addr})
		if err := tx.CreateCompany(ctx, withAddr); err != nil {
			return err
		}
		noAddr = company.NewCompany(company.CompanyFields{Name: "Acme Co"})
		return tx.CreateCompany(ctx, noAddr)
	}))

	var r Resolver
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		got, err := r.ResolveCompany(ctx, tx, company.CompanyFields{Name: "Acme Co", Address: &addr})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, withAddr.ID, got.ID)

		got, err = r.ResolveCompany(ctx, tx, company.CompanyFields{Name: "Acme Co"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, noAddr.ID, got.ID, "a name-only record matches the address-less company")

		got, err = r.ResolveCompany(ctx, tx, company.CompanyFields{Name: "Acme Co", Address: &other})
		require.NoError(t, err)
		assert.Nil(t, got)

		owner, err := r.ResolveOwner(ctx, tx, company.ContactFields{CompanyName: "Acme Co"})
		require.NoError(t, err)
		require.NotNil(t, owner)
		assert.Equal(t, withAddr.ID, owner.ID, "name-only owner references pick the lowest id")

		owner, err = r.ResolveOwner(ctx, tx, company.ContactFields{CompanyName: "Acme Co", CompanyAddress: &other})
		require.NoError(t, err)
		assert.Nil(t, owner)

		c, err := r.ResolveContact(ctx, tx, company.ContactFields{CompanyName: "Acme Co"}, withAddr.ID)
		require.NoError(t, err)
		assert.Nil(t, c, "contacts without email never resolve")
		return nil
	}))
}
