package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	p, err := ParsePeriod("2025-02")
	require.NoError(t, err)
	assert.Equal(t, 2025, p.Year)
	assert.Equal(t, time.February, p.Month)
	assert.Equal(t, "2025-02", p.String())

	for _, bad := range []string{"", "2025", "2025-13", "25-01", "2025/01"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestPeriodOf(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC-5", -5*3600)
	// 2025-01-31 22:00 at UTC-5 is already February in UTC.
	ts := time.Date(2025, time.January, 31, 22, 0, 0, 0, loc)
	assert.Equal(t, "2025-02", PeriodOf(ts).String())
}

func TestPeriodAddMonths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"2025-01", 1, "2025-02"},
		{"2025-12", 1, "2026-01"},
		{"2025-01", -1, "2024-12"},
		{"2026-01", -11, "2025-02"},
		{"2025-06", 0, "2025-06"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MustParsePeriod(tt.in).AddMonths(tt.n).String())
		})
	}
}

func TestPeriodOrderingMatchesText(t *testing.T) {
	t.Parallel()

	a := MustParsePeriod("2024-12")
	b := MustParsePeriod("2025-01")
	c := MustParsePeriod("2025-10")

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, c.Before(a))
	assert.False(t, b.Before(b))
	assert.Less(t, a.String(), b.String())
	assert.Less(t, b.String(), c.String())
}

func TestPeriodJSON(t *testing.T) {
	t.Parallel()

	obs := Observation{Kind: KindOrganization, Period: MustParsePeriod("2025-03"), Data: map[string]any{"name": "Acme"}}
	b, err := json.Marshal(obs)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"period":"2025-03"`)

	var back Observation
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, obs.Period, back.Period)

	// Zero period is omitted and round-trips as zero.
	b, err = json.Marshal(Observation{Kind: KindContact})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "period")

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"contact","period":""}`), &back))
	assert.True(t, back.Period.IsZero())
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Kind{
		"organization": KindOrganization,
		" Company ":    KindOrganization,
		"org":          KindOrganization,
		"contact":      KindContact,
		"Person":       KindContact,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("listing")
	assert.Error(t, err)
}
