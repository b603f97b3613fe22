package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/config"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/model"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "leads.db")},
		Ingest: config.IngestConfig{
			Workers:       2,
			QueueSize:     8,
			MaxAttempts:   2,
			RetentionDays: 365,
		},
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	withConfig(t, &config.Config{Store: config.StoreConfig{Driver: "mysql"}})
	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestOpenStore_SQLiteMigrates(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestInitNotion(t *testing.T) {
	withConfig(t, &config.Config{})
	assert.Nil(t, initNotion())

	withConfig(t, &config.Config{Notion: config.NotionConfig{Token: "secret_abc"}})
	assert.NotNil(t, initNotion())
}

func TestEngineConfig(t *testing.T) {
	ec := engineConfig(config.IngestConfig{
		Workers:            8,
		QueueSize:          64,
		MaxAttempts:        5,
		InitialBackoffMs:   10,
		MaxBackoffMs:       100,
		RecordTimeoutSecs:  3,
		RunTimeoutMins:     30,
		RetentionDays:      180,
		StaleLockAfterMins: 90,
	})
	assert.Equal(t, 8, ec.Workers)
	assert.Equal(t, 64, ec.QueueSize)
	assert.Equal(t, 180, ec.RetentionDays)
	assert.Equal(t, 5, ec.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, ec.Retry.InitialBackoff)
	assert.Equal(t, 100*time.Millisecond, ec.Retry.MaxBackoff)
	assert.Equal(t, 3*time.Second, ec.RecordTimeout)
	assert.Equal(t, 30*time.Minute, ec.RunTimeout)
	assert.Equal(t, 90*time.Minute, ec.StaleLockAfter)
}

func TestEngineConfig_KeepsDefaultsForUnset(t *testing.T) {
	def := ingest.DefaultConfig()
	ec := engineConfig(config.IngestConfig{Workers: 2})
	assert.Equal(t, def.RecordTimeout, ec.RecordTimeout)
	assert.Equal(t, def.RunTimeout, ec.RunTimeout)
	assert.Equal(t, def.StaleLockAfter, ec.StaleLockAfter)
	assert.Equal(t, def.Retry.MaxAttempts, ec.Retry.MaxAttempts)
}

func TestPeriodArg(t *testing.T) {
	now := time.Date(2025, 7, 31, 23, 0, 0, 0, time.UTC)

	p, err := periodArg("", now)
	require.NoError(t, err)
	assert.Equal(t, model.MustParsePeriod("2025-07"), p)

	p, err = periodArg("2024-12", now)
	require.NoError(t, err)
	assert.Equal(t, model.MustParsePeriod("2024-12"), p)

	_, err = periodArg("July", now)
	assert.Error(t, err)
}

func TestCleanupCutoff(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	p, err := cleanupCutoff("", 365, now)
	require.NoError(t, err)
	assert.Equal(t, model.MustParsePeriod("2025-02"), p)

	p, err = cleanupCutoff("2024-06", 365, now)
	require.NoError(t, err)
	assert.Equal(t, model.MustParsePeriod("2024-06"), p)

	_, err = cleanupCutoff("2024-6x", 365, now)
	assert.Error(t, err)
}

func writeSources(t *testing.T, dir string) string {
	t.Helper()
	data := filepath.Join(dir, "maps.jsonl")
	require.NoError(t, os.WriteFile(data, []byte(
		`{"kind":"organization","name":"Acme Co","address":"1 Main St","category":"Plumber"}`+"\n"+
			`{"kind":"contact","email":"jo@acme.test","company_name":"Acme Co","company_address":"1 Main St"}`+"\n"+
			`{"kind":"organization","address":"nameless"}`+"\n",
	), 0o600))

	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queries:
  - name: plumbers
    keywords: plumber
sources:
  - name: maps
    type: jsonl
    path: `+data+`
    query: plumbers
`), 0o600))
	return path
}

func TestSourceFactory_MissingFile(t *testing.T) {
	_, err := sourceFactory(filepath.Join(t.TempDir(), "nope.yaml"), collect.Deps{})(model.MustParsePeriod("2025-01"))
	assert.Error(t, err)
}

func TestRunOnce_EndToEnd(t *testing.T) {
	c := sqliteConfig(t)
	withConfig(t, c)
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	period := model.MustParsePeriod("2025-06")
	src, err := sourceFactory(writeSources(t, t.TempDir()), collect.Deps{})(period)
	require.NoError(t, err)

	report, err := runOnce(ctx, st, period, src, ingest.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, report.Status)
	assert.Equal(t, int64(2), report.Created)
	assert.Equal(t, int64(1), report.SkippedValidation)

	snaps, err := st.ListSnapshots(ctx, company.SnapshotFilter{ActiveOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.Equal(t, "plumbers", s.QueryName)
		assert.Equal(t, period, s.Period)
	}
}
