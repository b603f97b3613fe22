package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sells-group/leadtool/internal/model"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"store transient", &model.TransientStoreError{Op: "x", Err: errors.New("y")}, true},
		{"wrapped explicit", fmt.Errorf("fetch: %w", NewTransientError(errors.New("503"), 503)), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"validation", &model.ValidationError{Field: "name"}, false},
		{"plain", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d permanent", code)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want model.RejectReason
	}{
		{&model.ValidationError{Field: "name"}, model.RejectValidation},
		{fmt.Errorf("apply: %w", &model.OrphanRecordError{CompanyName: "Acme"}), model.RejectOrphan},
		{&model.TransientStoreError{Op: "x", Err: errors.New("locked")}, model.RejectTransient},
		{fmt.Errorf("record: %w", context.DeadlineExceeded), model.RejectAbandoned},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestNewRejected(t *testing.T) {
	obs := model.Observation{
		Kind:      model.KindContact,
		SourceURL: "https://maps.example/1",
		QueryName: "plumbers-austin",
		Data:      map[string]any{"email": "a@b.test"},
	}
	rec := NewRejected("run-1", model.MustParsePeriod("2025-02"), obs, &model.OrphanRecordError{CompanyName: "Acme"})
	if rec.Reason != model.RejectOrphan {
		t.Errorf("expected orphan reason, got %s", rec.Reason)
	}
	if string(rec.Payload) != `{"email":"a@b.test"}` {
		t.Errorf("unexpected payload %s", rec.Payload)
	}
	if rec.QueryName != "plumbers-austin" || rec.RunID != "run-1" {
		t.Errorf("unexpected record %+v", rec)
	}
}
