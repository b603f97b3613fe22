package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/model"
)

// mockRuns implements RunLister for testing.
type mockRuns struct {
	runs []model.Run
	err  error
}

func (m *mockRuns) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.runs) > limit {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestCollector(runs ...model.Run) *Collector {
	c := NewCollector(&mockRuns{runs: runs})
	c.now = func() time.Time { return testNow }
	return c
}

func finishedRun(id string, status model.RunStatus, ago time.Duration, report *model.RunReport) model.Run {
	started := testNow.Add(-ago)
	finished := started.Add(10 * time.Minute)
	return model.Run{ID: id, Status: status, StartedAt: started, FinishedAt: &finished, Report: report}
}

func TestCollector_EmptyStore(t *testing.T) {
	snap, err := newTestCollector().Collect(context.Background(), 24, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.RunsTotal)
	assert.Zero(t, snap.AbortRate)
	assert.Nil(t, snap.LastCompletedAt)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, testNow, snap.CollectedAt)
}

func TestCollector_RunMetrics(t *testing.T) {
	c := newTestCollector(
		finishedRun("r1", model.RunStatusCompleted, time.Hour, &model.RunReport{Created: 80, Merged: 10, SkippedValidation: 8, Abandoned: 2}),
		finishedRun("r2", model.RunStatusAborted, 2*time.Hour, &model.RunReport{Created: 5, SkippedTransient: 5}),
		finishedRun("r3", model.RunStatusCompleted, 3*time.Hour, nil),
		finishedRun("old", model.RunStatusAborted, 100*time.Hour, &model.RunReport{Created: 1000}),
	)

	snap, err := c.Collect(context.Background(), 24, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsAborted)
	assert.InDelta(t, 1.0/3.0, snap.AbortRate, 0.001)
	assert.Equal(t, int64(110), snap.RecordsProcessed)
	assert.Equal(t, int64(15), snap.RecordsSkipped)
	assert.Equal(t, int64(2), snap.RecordsAbandoned)
	assert.InDelta(t, 15.0/110.0, snap.SkipRate, 0.001)
	assert.Equal(t, "r1", snap.LatestRunID)
	require.NotNil(t, snap.LastCompletedAt)
	assert.Equal(t, testNow.Add(-time.Hour+10*time.Minute), *snap.LastCompletedAt)
}

func TestCollector_IgnoresMaintenanceRuns(t *testing.T) {
	c := newTestCollector(
		finishedRun("ingest", model.RunStatusAborted, 3*time.Hour, &model.RunReport{Kind: model.RunKindIngest, Created: 4, SkippedTransient: 1}),
		finishedRun("cleanup", model.RunStatusCompleted, 2*time.Hour, &model.RunReport{Kind: model.RunKindCleanup, Purged: 30}),
		finishedRun("gc", model.RunStatusCompleted, time.Hour, &model.RunReport{Kind: model.RunKindGC}),
	)

	snap, err := c.Collect(context.Background(), 24, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsAborted)
	assert.InDelta(t, 1.0, snap.AbortRate, 0.001)
	assert.Equal(t, int64(5), snap.RecordsProcessed)
	assert.Nil(t, snap.LastCompletedAt, "maintenance passes are not completed ingestions")
}

func TestCollector_StaleRun(t *testing.T) {
	c := newTestCollector(
		model.Run{ID: "stuck", Status: model.RunStatusRunning, StartedAt: testNow.Add(-8 * time.Hour)},
	)

	snap, err := c.Collect(context.Background(), 24, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, "stuck", snap.StaleRunID)
	assert.Equal(t, 8*time.Hour, snap.StaleRunAge)

	snap, err = c.Collect(context.Background(), 24, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.StaleRunID, "zero disables the stale check")
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockRuns{err: errors.New("db down")})
	_, err := c.Collect(context.Background(), 24, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}

func TestCollector_AbortRateZeroFinished(t *testing.T) {
	c := newTestCollector(model.Run{ID: "r", Status: model.RunStatusRunning, StartedAt: testNow})
	snap, err := c.Collect(context.Background(), 24, 0)
	require.NoError(t, err)
	assert.Zero(t, snap.AbortRate)
}
