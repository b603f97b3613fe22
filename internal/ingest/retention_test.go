package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadtool/internal/model"
)

func TestRetentionMonths(t *testing.T) {
	tests := []struct {
		days int
		want int
	}{
		{365, 12},
		{0, 12},
		{-5, 12},
		{30, 1},
		{1, 1},
		{90, 3},
		{730, 24},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetentionMonths(tt.days), "days=%d", tt.days)
	}
}

func TestRetentionCutoff(t *testing.T) {
	p := model.MustParsePeriod

	assert.Equal(t, p("2025-02"), RetentionCutoff(p("2026-01"), 365))
	assert.Equal(t, p("2024-03"), RetentionCutoff(p("2025-02"), 365))
	assert.Equal(t, p("2025-06"), RetentionCutoff(p("2025-06"), 30))
	assert.Equal(t, p("2024-12"), RetentionCutoff(p("2025-02"), 90))
}
