package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)
	var changes []string
	cb := NewCircuitBreaker(2, time.Minute, func(from, to CircuitState) {
		changes = append(changes, from.String()+"->"+to.String())
	})
	cb.now = func() time.Time { return now }

	failing := func(context.Context) error { return NewTransientError(errors.New("503"), 503) }
	ok := func(context.Context) error { return nil }

	_ = cb.Execute(context.Background(), failing)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after one failure, got %s", cb.State())
	}
	_ = cb.Execute(context.Background(), failing)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("trial call should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after trial call, got %s", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(changes) != len(want) {
		t.Fatalf("expected %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], changes[i])
		}
	}
}

func TestCircuitBreaker_IgnoresPermanentErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute, nil)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("bad request") })
	if cb.State() != CircuitClosed {
		t.Fatalf("permanent errors must not trip, got %s", cb.State())
	}
}
