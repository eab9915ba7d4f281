package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexiqai/caption-gateway/internal/clock"
)

func TestReconnectPolicy_LinearDelay(t *testing.T) {
	p := DefaultReconnectPolicy()

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	for i, want := range expected {
		if got := p.Delay(i + 1); got != want {
			t.Errorf("Attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
	if p.Delay(0) != 0 {
		t.Errorf("Expected zero delay for attempt 0, got %v", p.Delay(0))
	}
}

func TestReconnector_BudgetAndReset(t *testing.T) {
	r := NewReconnector(DefaultReconnectPolicy())

	for i := 1; i <= 3; i++ {
		attempt, _, ok := r.Next()
		if !ok || attempt != i {
			t.Fatalf("Expected attempt %d to be allowed, got attempt=%d ok=%v", i, attempt, ok)
		}
	}
	if _, _, ok := r.Next(); ok {
		t.Fatal("Expected 4th attempt to exceed the budget")
	}

	r.Reset()
	if r.Attempts() != 0 {
		t.Errorf("Expected attempts reset to 0, got %d", r.Attempts())
	}
	if attempt, delay, ok := r.Next(); !ok || attempt != 1 || delay != 2*time.Second {
		t.Errorf("Expected fresh attempt 1 with 2s delay, got %d %v %v", attempt, delay, ok)
	}
}

func TestReconnect_SucceedsAndResets(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	r := NewReconnector(DefaultReconnectPolicy())

	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- Reconnect(context.Background(), fake, r, func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return errors.New("dial failed")
			}
			return nil
		})
	}()

	fake.BlockUntil(1)
	fake.Advance(2 * time.Second) // attempt 1 fails
	fake.BlockUntil(1)
	fake.Advance(4 * time.Second) // attempt 2 succeeds

	if err := <-errCh; err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
	if r.Attempts() != 0 {
		t.Errorf("Expected counter reset after success, got %d", r.Attempts())
	}
}

func TestReconnect_Exhausted(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	r := NewReconnector(DefaultReconnectPolicy())

	calls := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- Reconnect(context.Background(), fake, r, func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("dial failed")
		})
	}()

	for _, d := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second} {
		fake.BlockUntil(1)
		fake.Advance(d)
	}

	if err := <-errCh; !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Expected ErrRetriesExhausted, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected exactly 3 dial attempts, got %d", calls)
	}
}

func TestReconnect_CancelDuringBackoff(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	r := NewReconnector(DefaultReconnectPolicy())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- Reconnect(ctx, fake, r, func(ctx context.Context, attempt int) error {
			t.Error("Dial should not run after cancellation")
			return nil
		})
	}()

	fake.BlockUntil(1)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if fake.Pending() != 0 {
		t.Errorf("Expected backoff timer to be cancelled, %d pending", fake.Pending())
	}
}
