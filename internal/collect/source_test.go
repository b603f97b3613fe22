package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtool/internal/model"
)

// collectAll streams src into a buffer large enough for any test input.
func collectAll(t *testing.T, src Source) ([]model.Observation, error) {
	t.Helper()
	out := make(chan model.Observation, 1024)
	err := src.Stream(context.Background(), out)
	close(out)
	var got []model.Observation
	for obs := range out {
		got = append(got, obs)
	}
	return got, err
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStatic(t *testing.T) {
	src := Static{
		{Kind: model.KindOrganization, Data: map[string]any{"name": "Acme"}},
		{Kind: model.KindContact, Data: map[string]any{"email": "a@b.co"}},
	}
	got, err := collectAll(t, src)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStatic_BlocksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan model.Observation) // unbuffered, nobody reading

	err := Static{{Kind: model.KindOrganization}}.Stream(ctx, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMulti_StopsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	var thirdCalled bool
	m := Multi{
		{Name: "a", Source: Static{{Kind: model.KindOrganization}}},
		{Name: "b", Source: Func(func(context.Context, chan<- model.Observation) error { return boom })},
		{Name: "c", Source: Func(func(context.Context, chan<- model.Observation) error {
			thirdCalled = true
			return nil
		})},
	}

	got, err := collectAll(t, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "collect: source b")
	assert.Len(t, got, 1)
	assert.False(t, thirdCalled)
}

func TestMetaObservation_Overrides(t *testing.T) {
	meta := Meta{Kind: model.KindOrganization, Period: model.MustParsePeriod("2025-01"), SourceURL: "file://x", QueryName: "q"}

	obs, err := meta.observation(map[string]any{
		"kind":       "person",
		"period":     "2025-02",
		"source_url": "https://maps.example/1",
		"query_name": "plumbers",
		"email":      "a@b.co",
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindContact, obs.Kind)
	assert.Equal(t, "2025-02", obs.Period.String())
	assert.Equal(t, "https://maps.example/1", obs.SourceURL)
	assert.Equal(t, "plumbers", obs.QueryName)
	assert.Equal(t, map[string]any{"email": "a@b.co"}, obs.Data)
}

func TestMetaObservation_UnknownKindPassesThrough(t *testing.T) {
	obs, err := Meta{}.observation(map[string]any{"kind": "vendor"})
	require.NoError(t, err)
	assert.Equal(t, model.Kind("vendor"), obs.Kind)
}

func TestMetaObservation_BadPeriod(t *testing.T) {
	_, err := Meta{}.observation(map[string]any{"period": "January"})
	assert.Error(t, err)
}

func TestMetaEmit_SkipsBadEnvelope(t *testing.T) {
	out := make(chan model.Observation, 1)
	err := Meta{}.emit(context.Background(), out, map[string]any{"period": "bad"}, "line 1")
	require.NoError(t, err)
	assert.Empty(t, out)
}
