package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo(t *testing.T) {
	fast := Policy{MaxRetries: 3, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}

	tests := []struct {
		name      string
		failures  int
		failWith  error
		wantCalls int
		wantErr   bool
	}{
		{name: "succeeds first time", failures: 0, wantCalls: 1},
		{name: "succeeds after retries", failures: 2, failWith: errTransient, wantCalls: 3},
		{name: "gives up", failures: 10, failWith: errTransient, wantCalls: 4, wantErr: true},
		{name: "permanent error", failures: 10, failWith: errors.New("permanent"), wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast, isTransient, func(int) error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second}

	err := Do(ctx, p, isTransient, func(int) error { return errTransient })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	for attempt := 0; attempt < 3; attempt++ {
		want := float64(100*time.Millisecond) * float64(int(1)<<attempt)
		got := float64(p.Delay(attempt))
		if got < want*0.75 || got > want*1.25 {
			t.Errorf("Delay(%d) = %v, outside ±25%% of %v", attempt, time.Duration(got), time.Duration(want))
		}
	}

	if d := p.Delay(10); d != time.Second {
		t.Errorf("Delay(10) = %v, want capped %v", d, time.Second)
	}
}
