package engine

import (
	"context"
	"time"
)

// refreshLoop runs for one enabled session. Each iteration executes on the
// engine loop and returns how long to wait before the next one.
func (e *Engine) refreshLoop(ctx context.Context, _ uint64) {
	for {
		var wait time.Duration
		if !e.call(ctx, func(ctx context.Context) { wait = e.refreshStep(ctx) }) {
			return
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (e *Engine) refreshStep(ctx context.Context) time.Duration {
	if !e.active() {
		return e.timings.PollInterval
	}

	root, err := e.platform.Root(ctx)
	if err != nil || root == nil {
		e.log.Debug().Err(err).Msg("UI tree unavailable, backing off")
		return e.timings.Backoff
	}

	if e.platform.FindByText(root, MarkerPlanner) == nil {
		// Tree notifications may have stopped on a static screen
		e.ensureRecoveryTimeout()
		return e.timings.PollInterval
	}

	e.recovery.stop()

	if e.forceRefresh {
		e.forceRefresh = false
		e.swipe(ctx, "forced")
		return e.timings.Settle
	}

	e.swipe(ctx, "")
	return e.jitter(e.config.Snapshot().RefreshBaseMs())
}

func (e *Engine) swipe(ctx context.Context, detail string) {
	e.log.Debug().Str("kind", detail).Msg("On Booking Planner, performing swipe refresh")
	e.record(EventRefresh, "", detail)
	if err := e.platform.SwipeVertical(ctx); err != nil {
		e.log.Warn().Err(err).Msg("Swipe refresh failed")
	}
}

// jitter returns base ± 20% drawn uniformly, in refresh units
func (e *Engine) jitter(baseMs int64) time.Duration {
	base := float64(baseMs)
	delay := base + (e.rand()*2-1)*0.2*base
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay * float64(e.timings.RefreshUnit))
}
