package sync

import (
	"context"
	"testing"
	"time"
)

func TestIntervalThrottle_FirstWaitIsImmediate(t *testing.T) {
	th := NewIntervalThrottle(time.Second)

	start := time.Now()
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first Wait took %v, want immediate", elapsed)
	}
}

func TestIntervalThrottle_EnforcesGap(t *testing.T) {
	const interval = 50 * time.Millisecond
	th := NewIntervalThrottle(interval)
	ctx := context.Background()

	if err := th.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < interval {
		t.Errorf("second Wait returned after %v, want at least %v", elapsed, interval)
	}
}

func TestIntervalThrottle_CancelledContext(t *testing.T) {
	th := NewIntervalThrottle(time.Hour)

	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := th.Wait(ctx); err == nil {
		t.Error("Wait returned nil on cancelled context, want error")
	}
}

func TestNoThrottle_NeverDelays(t *testing.T) {
	th := NoThrottle()
	start := time.Now()
	for range 100 {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("100 Waits took %v, want no delay", elapsed)
	}
}
