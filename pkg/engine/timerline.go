package engine

import (
	"context"
	"time"
)

// timerLine supervises at most one goroutine of a kind. Starting a new run
// cancels the previous one and waits for it to exit first, so two runs of the
// same kind never overlap. It is only touched from the engine loop.
type timerLine struct {
	name   string
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// start launches run under a fresh child of parent and returns its generation
func (l *timerLine) start(parent context.Context, run func(ctx context.Context, gen uint64)) uint64 {
	l.stop()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.gen++
	gen := l.gen
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		run(ctx, gen)
	}()
	return gen
}

// stop cancels the live run, if any, and waits for it to exit
func (l *timerLine) stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}

// active reports whether a run is live and has not been consumed
func (l *timerLine) active() bool {
	return l.cancel != nil
}

// owns reports whether gen is the live run
func (l *timerLine) owns(gen uint64) bool {
	return l.cancel != nil && l.gen == gen
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
