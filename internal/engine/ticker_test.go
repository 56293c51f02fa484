package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
)

func TestTickerAccumulates(t *testing.T) {
	tk := NewTicker(10*time.Millisecond, 16*time.Millisecond, 8, logger.Discard())

	tests := []struct {
		elapsed     time.Duration
		wantSteps   int
		wantSkipped int
	}{
		{4 * time.Millisecond, 0, 0},
		{4 * time.Millisecond, 0, 0},
		{4 * time.Millisecond, 1, 0},  // 12ms accumulated
		{16 * time.Millisecond, 1, 0}, // 2+16 = 18ms
		{2 * time.Millisecond, 1, 0},  // 8+2 = 10ms
		{30 * time.Millisecond, 3, 0},
	}
	for i, tt := range tests {
		steps, skipped := tk.Advance(tt.elapsed)
		if steps != tt.wantSteps || skipped != tt.wantSkipped {
			t.Errorf("frame %d: got (%d,%d), want (%d,%d)", i, steps, skipped, tt.wantSteps, tt.wantSkipped)
		}
	}
}

func TestTickerClampsBacklog(t *testing.T) {
	tk := NewTicker(10*time.Millisecond, 16*time.Millisecond, 4, logger.Discard())

	steps, skipped := tk.Advance(125 * time.Millisecond)
	if steps != 4 || skipped != 8 {
		t.Fatalf("Expected 4 steps and 8 skipped, got %d and %d", steps, skipped)
	}
	// Only the sub-step remainder survives the clamp.
	steps, _ = tk.Advance(5 * time.Millisecond)
	if steps != 1 {
		t.Errorf("Expected remainder 5ms + 5ms to owe 1 step, got %d", steps)
	}
}

func TestTickerStartStops(t *testing.T) {
	tk := NewTicker(time.Millisecond, time.Millisecond, 4, logger.Discard())

	var frames atomic.Int64
	done := make(chan struct{})
	go func() {
		tk.Start(context.Background(), func(steps, skipped int) bool {
			return frames.Add(1) >= 3
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop when onFrame returned true")
	}

	tk2 := NewTicker(time.Millisecond, time.Millisecond, 4, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done2 := make(chan struct{})
	go func() {
		tk2.Start(ctx, func(int, int) bool { return false })
		close(done2)
	}()
	cancel()
	tk2.Stop()
	tk2.Stop()
	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop on cancel")
	}
}
