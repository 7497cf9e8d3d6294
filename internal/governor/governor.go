// Package governor paces outbound provider calls through a single
// next-allowed cursor. One instance per run, passed explicitly to whatever
// needs pacing; nothing here is a process-wide singleton.
package governor

import (
	"context"
	"sync"
	"time"
)

// Governor admits one call per interval. Every Schedule call claims the
// next departure slot whether or not it had to wait, so a burst of N
// callers departs at least one interval apart. Safe for concurrent use.
type Governor struct {
	mu       sync.Mutex
	interval time.Duration
	cursor   time.Time // next allowed departure slot

	// nowFunc and waitFunc are injectable for testing.
	nowFunc  func() time.Time
	waitFunc func(ctx context.Context, d time.Duration) error
}

// New creates a governor with the given minimum spacing between calls.
func New(interval time.Duration) *Governor {
	if interval < 0 {
		interval = 0
	}
	return &Governor{
		interval: interval,
		nowFunc:  time.Now,
		waitFunc: sleepCtx,
	}
}

// Schedule blocks until the caller's departure slot arrives, or until ctx
// is done. The slot is claimed before waiting, so concurrent callers never
// share one.
func (g *Governor) Schedule(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	now := g.nowFunc()
	wait := g.cursor.Sub(now)
	if wait <= 0 {
		wait = 0
		g.cursor = now.Add(g.interval)
	} else {
		g.cursor = g.cursor.Add(g.interval)
	}
	g.mu.Unlock()

	if wait == 0 {
		return nil
	}
	return g.waitFunc(ctx, wait)
}

// SetInterval changes the spacing, taking effect for slots claimed after
// the call. Already-claimed slots keep their departure times.
func (g *Governor) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.mu.Lock()
	g.interval = d
	g.mu.Unlock()
}

// Interval returns the current spacing.
func (g *Governor) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

// Reset clears the cursor so the next call departs immediately. Used
// between runs.
func (g *Governor) Reset() {
	g.mu.Lock()
	g.cursor = time.Time{}
	g.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
