package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MRamiBalles/sand-dropper/internal/platform/logger"
)

// Ticker paces the simulation against wall time with a fixed-step
// accumulator: every frame adds the elapsed time, and one step is owed per
// step interval accumulated. A frame never runs more than maxCatchUp steps;
// the rest of the backlog is dropped so a stalled process does not replay
// seconds of simulation in one burst.
type Ticker struct {
	step       time.Duration
	frame      time.Duration
	maxCatchUp int

	acc time.Duration

	logger   *logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTicker creates a ticker running frames every frame and owing one step
// per step of elapsed time.
func NewTicker(step, frame time.Duration, maxCatchUp int, log *logger.Logger) *Ticker {
	if maxCatchUp < 1 {
		maxCatchUp = 1
	}
	return &Ticker{
		step:       step,
		frame:      frame,
		maxCatchUp: maxCatchUp,
		logger:     log,
		stopChan:   make(chan struct{}),
	}
}

// Advance adds elapsed to the accumulator and returns how many steps to run
// now and how many were dropped by the catch-up clamp.
func (t *Ticker) Advance(elapsed time.Duration) (steps, skipped int) {
	if elapsed < 0 {
		elapsed = 0
	}
	t.acc += elapsed
	owed := int(t.acc / t.step)
	if owed > t.maxCatchUp {
		skipped = owed - t.maxCatchUp
		owed = t.maxCatchUp
		t.acc %= t.step
	} else {
		t.acc -= time.Duration(owed) * t.step
	}
	return owed, skipped
}

// Start runs frames until ctx is cancelled, Stop is called, or onFrame
// returns true. onFrame receives the steps owed this frame. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context, onFrame func(steps, skipped int) (stop bool)) {
	t.logger.Infof("Ticker started: step %s, frame %s, catch-up %d", t.step, t.frame, t.maxCatchUp)

	ticker := time.NewTicker(t.frame)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Ticker stopped by context.")
			return
		case <-t.stopChan:
			t.logger.Info("Ticker stopped manually.")
			return
		case now := <-ticker.C:
			steps, skipped := t.Advance(now.Sub(last))
			last = now
			if skipped > 0 {
				t.logger.Warnf("Ticker behind: dropped %d steps", skipped)
			}
			if onFrame(steps, skipped) {
				return
			}
		}
	}
}

// Stop gracefully stops the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}
