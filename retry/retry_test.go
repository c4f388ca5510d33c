package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWindowPick(t *testing.T) {
	w := Between(2*time.Second, 3*time.Second)
	for range 200 {
		d := w.Pick()
		if d < 2*time.Second || d > 3*time.Second {
			t.Fatalf("Pick() = %v, outside [2s,3s]", d)
		}
	}
	if got := Fixed(5 * time.Minute).Pick(); got != 5*time.Minute {
		t.Fatalf("Fixed.Pick() = %v", got)
	}
	if !(Window{}).IsZero() {
		t.Fatal("zero window should report IsZero")
	}
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Exponential: true}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	capped := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Exponential: true}
	if got := capped.Backoff(5); got != 3*time.Second {
		t.Errorf("capped Backoff(5) = %v, want 3s", got)
	}

	fixed := Policy{BaseDelay: 2 * time.Second}
	if got := fixed.Backoff(3); got != 2*time.Second {
		t.Errorf("fixed Backoff(3) = %v, want 2s", got)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	rec := &Recorder{}
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}, rec, nil,
		func(int) error {
			calls++
			if calls < 3 {
				return errors.New("boom")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if got := rec.Delays(); len(got) != 2 || got[0] != 2*time.Second {
		t.Fatalf("delays = %v", got)
	}
}

func TestDo_Exhausted(t *testing.T) {
	sentinel := errors.New("down")
	rec := &Recorder{}
	err := Do(context.Background(), Policy{MaxAttempts: 3}, rec, nil, func(int) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapping %v", err, sentinel)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Fatalf("err = %q, want attempt count", err)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, &Recorder{},
		func(err error) bool { return !errors.Is(err, fatal) },
		func(int) error { calls++; return fatal })
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5}, Wall, nil, func(int) error { calls++; return errors.New("x") })
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestWallSleeperHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := Wall.Sleep(ctx, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Sleep err = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Sleep ignored context")
	}
}
