package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"Toyol/pkg/uitree"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrStopped is returned when the engine loop is not running any more
var ErrStopped = errors.New("engine stopped")

// Timings are the fixed waits of the automaton
type Timings struct {
	// RecoveryTimeout is how long the planner may stay unseen before recovery
	RecoveryTimeout time.Duration
	// Backoff is the refresh wait when the tree is unavailable
	Backoff time.Duration
	// PollInterval is the refresh wait while off the planner screen
	PollInterval time.Duration
	// Settle is the wait after a forced refresh
	Settle time.Duration
	// RefreshUnit scales Configuration.RefreshIntervalMs
	RefreshUnit time.Duration
	// FilterBudget caps the JobFilter time spent on one scan, across all candidates
	FilterBudget time.Duration
}

// DefaultTimings returns the production timings
func DefaultTimings() Timings {
	return Timings{
		RecoveryTimeout: 5 * time.Second,
		Backoff:         5 * time.Second,
		PollInterval:    2 * time.Second,
		Settle:          2 * time.Second,
		RefreshUnit:     time.Millisecond,
		FilterBudget:    3 * time.Second,
	}
}

// Options for creating an Engine
type Options struct {
	Platform Platform
	Config   ConfigSource
	Filter   JobFilter // optional
	Recorder Recorder  // optional
	Timings  Timings   // zero fields fall back to DefaultTimings
	Logger   *zerolog.Logger
	// Rand returns a uniform value in [0,1) for refresh jitter; defaults to math/rand
	Rand func() float64
}

// Status is a point-in-time view of the automaton
type Status struct {
	Running       bool   `json:"running"`
	SessionID     string `json:"sessionId,omitempty"`
	Pending       string `json:"pending,omitempty"`
	HasPending    bool   `json:"hasPending"`
	ForceRefresh  bool   `json:"forceRefresh"`
	RecoveryArmed bool   `json:"recoveryArmed"`
	Refreshing    bool   `json:"refreshing"`
	LastScreen    Screen `json:"lastScreen,omitempty"`
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan bool
}

// Engine is the scan-and-act automaton with its recovery and refresh lines
type Engine struct {
	platform Platform
	config   ConfigSource
	filter   JobFilter
	recorder Recorder
	timings  Timings
	log      zerolog.Logger
	rand     func() float64

	jobs     chan job
	done     chan struct{}
	doneOnce sync.Once
	running  sync.Mutex

	// Owned by the loop goroutine
	sessionID     string
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	pending       *string
	forceRefresh  bool
	lastScreen    Screen
	recovery      timerLine
	refresh       timerLine
}

// New creates an Engine. Run must be called to start processing.
func New(opts Options) (*Engine, error) {
	if opts.Platform == nil {
		return nil, fmt.Errorf("engine: platform is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("engine: config source is required")
	}

	e := &Engine{
		platform: opts.Platform,
		config:   opts.Config,
		filter:   opts.Filter,
		recorder: opts.Recorder,
		timings:  withDefaults(opts.Timings),
		log:      zerolog.Nop(),
		rand:     opts.Rand,
		jobs:     make(chan job, 16),
		done:     make(chan struct{}),
		recovery: timerLine{name: "recovery"},
		refresh:  timerLine{name: "refresh"},
	}
	if opts.Logger != nil {
		e.log = *opts.Logger
	}
	if e.rand == nil {
		e.rand = rand.Float64
	}
	if e.recorder == nil {
		e.recorder = RecorderFunc(func(Event) {})
	}
	return e, nil
}

func withDefaults(t Timings) Timings {
	d := DefaultTimings()
	if t.RecoveryTimeout <= 0 {
		t.RecoveryTimeout = d.RecoveryTimeout
	}
	if t.Backoff <= 0 {
		t.Backoff = d.Backoff
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.Settle <= 0 {
		t.Settle = d.Settle
	}
	if t.RefreshUnit <= 0 {
		t.RefreshUnit = d.RefreshUnit
	}
	if t.FilterBudget <= 0 {
		t.FilterBudget = d.FilterBudget
	}
	return t
}

// ========================================
// Loop
// ========================================

// Run processes tree notifications and timer events until ctx is cancelled.
// A session is active while the service-enabled flag is on; turning it on
// (re)starts the session, turning it off shuts every timer line down.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.TryLock() {
		return fmt.Errorf("engine: already running")
	}
	defer e.running.Unlock()

	if e.stopped() {
		return ErrStopped
	}

	enabledCh, unsubscribe := e.config.Subscribe()
	defer unsubscribe()

	defer func() {
		e.stopSession("shutdown")
		e.doneOnce.Do(func() { close(e.done) })
	}()

	if e.config.Enabled() {
		e.startSession(ctx)
	}
	e.log.Info().Bool("enabled", e.config.Enabled()).Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Engine stopping")
			return nil
		case on, ok := <-enabledCh:
			if !ok {
				enabledCh = nil
				continue
			}
			if on {
				e.startSession(ctx)
			} else {
				e.stopSession("disabled")
			}
		case j := <-e.jobs:
			e.runJob(j)
		}
	}
}

func (e *Engine) runJob(j job) {
	ran := false
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in engine job")
		}
		if j.done != nil {
			j.done <- ran
		}
	}()

	if j.ctx.Err() != nil {
		return
	}
	j.fn(j.ctx)
	ran = true
}

// post queues fn on the loop without waiting for it
func (e *Engine) post(ctx context.Context, fn func(ctx context.Context)) bool {
	if e.stopped() {
		return false
	}
	select {
	case e.jobs <- job{ctx: ctx, fn: fn}:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

// call runs fn on the loop and waits; it reports whether fn ran to completion
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context)) bool {
	if e.stopped() {
		return false
	}
	done := make(chan bool, 1)
	select {
	case e.jobs <- job{ctx: ctx, fn: fn, done: done}:
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
	select {
	case ran := <-done:
		return ran
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

func (e *Engine) stopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// ========================================
// Public entry points
// ========================================

// TreeChanged delivers a new UI tree snapshot to the automaton
func (e *Engine) TreeChanged(ctx context.Context, root uitree.Element) error {
	if !e.post(ctx, func(ctx context.Context) { e.scan(ctx, root) }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStopped
	}
	return nil
}

// Status returns the automaton state as seen by the loop
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	ok := e.call(ctx, func(context.Context) {
		st = Status{
			Running:       e.sessionID != "",
			SessionID:     e.sessionID,
			HasPending:    e.pending != nil,
			ForceRefresh:  e.forceRefresh,
			RecoveryArmed: e.recovery.active(),
			Refreshing:    e.refresh.active(),
			LastScreen:    e.lastScreen,
		}
		if e.pending != nil {
			st.Pending = *e.pending
		}
	})
	if !ok {
		if ctx.Err() != nil {
			return Status{}, ctx.Err()
		}
		return Status{}, ErrStopped
	}
	return st, nil
}

// ========================================
// Sessions
// ========================================

func (e *Engine) startSession(parent context.Context) {
	e.stopSession("restart")

	e.sessionID = uuid.New().String()
	e.sessionCtx, e.sessionCancel = context.WithCancel(parent)
	e.pending = nil
	e.forceRefresh = false
	e.lastScreen = ScreenNone

	e.log.Info().Str("session", e.sessionID).Msg("Session started")
	e.record(EventSessionStarted, "", "")
	e.refresh.start(e.sessionCtx, e.refreshLoop)
	e.rescan(e.sessionCtx)
}

// rescan scans the current tree. A screen that was already showing when the
// session started produces no change notification of its own.
func (e *Engine) rescan(ctx context.Context) {
	root, err := e.platform.Root(ctx)
	if err != nil || root == nil {
		e.log.Debug().Err(err).Msg("No UI tree to scan at session start")
		return
	}
	e.scan(ctx, root)
}

func (e *Engine) stopSession(reason string) {
	if e.sessionID == "" {
		return
	}
	e.recovery.stop()
	e.refresh.stop()
	e.sessionCancel()
	e.pending = nil
	e.forceRefresh = false

	e.log.Info().Str("session", e.sessionID).Str("reason", reason).Msg("Session stopped")
	e.record(EventSessionStopped, "", reason)
	e.sessionID = ""
	e.sessionCtx = nil
	e.sessionCancel = nil
}

// active reports whether a session is running and the service is still enabled
func (e *Engine) active() bool {
	return e.sessionID != "" && e.config.Enabled()
}

func (e *Engine) record(kind EventKind, text, detail string) {
	e.recorder.Record(Event{
		Kind:      kind,
		SessionID: e.sessionID,
		Text:      text,
		Detail:    detail,
		Time:      time.Now(),
	})
}

func (e *Engine) click(ctx context.Context, el uitree.Element, what string) {
	if err := e.platform.Click(ctx, el); err != nil {
		e.log.Warn().Err(err).Str("target", what).Msg("Click failed")
	}
}
