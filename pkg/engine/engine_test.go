package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"Toyol/pkg/criteria"
	"Toyol/pkg/settings"
	"Toyol/pkg/types"
	"Toyol/pkg/uitree"
)

// ========================================
// Fakes
// ========================================

type fakePlatform struct {
	TreeLookup

	mu      sync.Mutex
	root    uitree.Element
	rootErr error
	actions []string
	sounds  int
	onBack  func(p *fakePlatform)
}

func (p *fakePlatform) setRoot(root uitree.Element, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = root
	p.rootErr = err
}

func (p *fakePlatform) Root(ctx context.Context) (uitree.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rootErr != nil {
		return nil, p.rootErr
	}
	return p.root, nil
}

func (p *fakePlatform) Click(ctx context.Context, el uitree.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := el.ResourceID()
	if text, ok := el.Text(); ok {
		name = text
	}
	p.actions = append(p.actions, "click:"+name)
	return nil
}

func (p *fakePlatform) SwipeVertical(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, "swipe")
	return nil
}

func (p *fakePlatform) NavigateBack(ctx context.Context) error {
	p.mu.Lock()
	p.actions = append(p.actions, "back")
	hook := p.onBack
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *fakePlatform) PlayConfirmation(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds++
}

func (p *fakePlatform) soundCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sounds
}

func (p *fakePlatform) getActions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofKind(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type stubFilter struct {
	ok  bool
	err error
}

func (f stubFilter) Accept(ctx context.Context, job criteria.Job) (bool, error) {
	return f.ok, f.err
}

// blockingFilter holds each call until ctx expires
type blockingFilter struct {
	mu    sync.Mutex
	calls int
}

func (f *blockingFilter) Accept(ctx context.Context, job criteria.Job) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	<-ctx.Done()
	return false, ctx.Err()
}

func (f *blockingFilter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ========================================
// Helpers
// ========================================

const matchingJob = "JustGrab\n2:15 PM\nRM15.50\n3.2 Km from you"

func screen(texts ...string) *uitree.Node {
	root := &uitree.Node{Class: "android.widget.FrameLayout"}
	for _, t := range texts {
		root.Nodes = append(root.Nodes, uitree.Node{Label: t})
	}
	return root
}

func planner(jobs ...string) *uitree.Node {
	root := screen(MarkerPlanner)
	for _, j := range jobs {
		item := uitree.Node{ID: CandidateID, Bounds: "[0,200][1080,400]"}
		for _, line := range strings.Split(j, "\n") {
			item.Nodes = append(item.Nodes, uitree.Node{Label: line})
		}
		root.Nodes = append(root.Nodes, item)
	}
	return root
}

func slowTimings() Timings {
	return Timings{
		RecoveryTimeout: time.Hour,
		Backoff:         time.Hour,
		PollInterval:    time.Hour,
		Settle:          time.Hour,
		RefreshUnit:     time.Millisecond,
	}
}

func enabledStore() *settings.Store {
	cfg := types.DefaultConfiguration()
	cfg.ServiceEnabled = true
	cfg.CategoryFilters["JustGrab"] = true
	return settings.New(settings.Config{Initial: cfg})
}

type harness struct {
	engine   *Engine
	platform *fakePlatform
	store    *settings.Store
	events   *eventLog
	cancel   context.CancelFunc
	runDone  chan error
	stopOnce sync.Once
}

func startEngine(t *testing.T, timings Timings, filter JobFilter, initial error) *harness {
	t.Helper()
	h := &harness{
		platform: &fakePlatform{rootErr: initial},
		store:    enabledStore(),
		events:   &eventLog{},
		runDone:  make(chan error, 1),
	}
	e, err := New(Options{
		Platform: h.platform,
		Config:   h.store,
		Filter:   filter,
		Recorder: h.events,
		Timings:  timings,
		Rand:     func() float64 { return 0.5 },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.engine = e

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runDone <- e.Run(ctx) }()
	t.Cleanup(h.stop)

	h.waitStatus(t, func(st Status) bool { return st.Running })
	return h
}

func (h *harness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.runDone
	})
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := h.engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return st
}

func (h *harness) waitStatus(t *testing.T, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := h.status(t)
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached, last status %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) notify(t *testing.T, root uitree.Element) Status {
	t.Helper()
	if err := h.engine.TreeChanged(context.Background(), root); err != nil {
		t.Fatalf("TreeChanged failed: %v", err)
	}
	// Status runs after the scan on the same loop
	return h.status(t)
}

var errNoTree = errors.New("no tree")

// ========================================
// Scan-and-act
// ========================================

func TestPlannerClicksFirstMatchingJob(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)

	st := h.notify(t, planner("Plus\n9:00 AM\nRM40", matchingJob, matchingJob))

	actions := h.platform.getActions()
	if len(actions) != 1 || actions[0] != "click:"+CandidateID {
		t.Fatalf("expected exactly one candidate click, got %v", actions)
	}
	if !st.HasPending || st.Pending != matchingJob {
		t.Errorf("pending: got %q (set=%v)", st.Pending, st.HasPending)
	}
	if st.LastScreen != ScreenPlanner {
		t.Errorf("screen: got %q", st.LastScreen)
	}
	if got := h.events.ofKind(EventJobClicked); len(got) != 1 || got[0].Text != matchingJob {
		t.Errorf("job_clicked events: %+v", got)
	}
}

func TestPlannerWithoutMatchDoesNothing(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)

	st := h.notify(t, planner("Plus\n9:00 AM\nRM40"))
	if actions := h.platform.getActions(); len(actions) != 0 {
		t.Errorf("expected no actions, got %v", actions)
	}
	if st.HasPending || st.RecoveryArmed {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestJobFilterCanReject(t *testing.T) {
	tests := []struct {
		name   string
		filter stubFilter
		clicks int
	}{
		{"accepts", stubFilter{ok: true}, 1},
		{"rejects", stubFilter{ok: false}, 0},
		{"fails closed", stubFilter{ok: true, err: errors.New("boom")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startEngine(t, slowTimings(), tt.filter, errNoTree)
			h.notify(t, planner(matchingJob))
			if got := len(h.platform.getActions()); got != tt.clicks {
				t.Errorf("expected %d clicks, got %d", tt.clicks, got)
			}
		})
	}
}

func TestBookingConfirmedStopsService(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	h.notify(t, planner(matchingJob))

	st := h.notify(t, screen(MarkerBookingConfirmed, "Close", "Confirm"))

	actions := h.platform.getActions()
	if len(actions) != 2 || actions[1] != "click:Close" {
		t.Errorf("expected Close click only, got %v", actions)
	}
	if n := h.platform.soundCount(); n != 1 {
		t.Errorf("expected one confirmation sound, got %d", n)
	}
	if h.store.Enabled() {
		t.Error("service should be disabled")
	}
	if st.Running || st.HasPending || st.Refreshing {
		t.Errorf("session should be shut down: %+v", st)
	}

	// Notifications are ignored while disabled
	h.notify(t, planner(matchingJob))
	if got := len(h.platform.getActions()); got != 2 {
		t.Errorf("expected no action after shutdown, got %v", h.platform.getActions())
	}
}

func TestConfirmClicked(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	h.notify(t, screen("Are you sure?", "Confirm", "Cancel"))

	actions := h.platform.getActions()
	if len(actions) != 1 || actions[0] != "click:Confirm" {
		t.Errorf("got %v", actions)
	}
}

func TestAcceptVerifiesPendingJob(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	h.notify(t, planner(matchingJob))

	st := h.notify(t, screen(matchingJob, "Accept", "Cancel"))
	actions := h.platform.getActions()
	if len(actions) != 2 || actions[1] != "click:Accept" {
		t.Errorf("expected Accept click, got %v", actions)
	}
	if st.HasPending {
		t.Error("pending should be cleared")
	}
}

func TestAcceptMismatchRecovers(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	h.notify(t, planner(matchingJob))

	// The user turned the category off between click and verification
	h.store.Update(func(cfg *types.Configuration) {
		cfg.CategoryFilters["JustGrab"] = false
	})

	st := h.notify(t, screen(matchingJob, "Accept", "Cancel"))
	actions := h.platform.getActions()
	if len(actions) != 2 || actions[1] != "click:Cancel" {
		t.Errorf("expected Cancel click, got %v", actions)
	}
	if st.HasPending || st.ForceRefresh {
		t.Errorf("unexpected state %+v", st)
	}
	if got := h.events.ofKind(EventJobRejected); len(got) != 1 {
		t.Errorf("expected one rejection, got %+v", got)
	}
}

func TestAcceptWithoutPendingIsUnrecognized(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)

	st := h.notify(t, screen("Accept"))
	if actions := h.platform.getActions(); len(actions) != 0 {
		t.Errorf("expected no actions, got %v", actions)
	}
	if st.LastScreen != ScreenUnknown || !st.RecoveryArmed {
		t.Errorf("expected recovery timeout armed, got %+v", st)
	}
}

func TestErrorScreenRecoveryOrder(t *testing.T) {
	backIcon := func(desc string) uitree.Node {
		return uitree.Node{ID: BackIconID, ContentDesc: desc}
	}
	tests := []struct {
		name string
		root *uitree.Node
		want string
	}{
		{
			name: "cancel first",
			root: &uitree.Node{Nodes: []uitree.Node{{Label: "Slots are fully reserved"}, {Label: "Cancel"}, backIcon("Navigate Back")}},
			want: "click:Cancel",
		},
		{
			name: "back icon",
			root: &uitree.Node{Nodes: []uitree.Node{{Label: "Request timed out"}, backIcon("Navigate Back")}},
			want: "click:" + BackIconID,
		},
		{
			name: "back icon without description",
			root: &uitree.Node{Nodes: []uitree.Node{{Label: "Request timed out"}, backIcon("Menu")}},
			want: "back",
		},
		{
			name: "generic back",
			root: screen("Slots are fully reserved"),
			want: "back",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startEngine(t, slowTimings(), nil, errNoTree)
			h.notify(t, planner(matchingJob))

			st := h.notify(t, tt.root)
			actions := h.platform.getActions()
			if len(actions) != 2 || actions[1] != tt.want {
				t.Errorf("expected %s, got %v", tt.want, actions)
			}
			if st.HasPending || st.LastScreen != ScreenError {
				t.Errorf("unexpected state %+v", st)
			}
		})
	}
}

func TestPlannerCancelsRecoveryTimeout(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)

	if st := h.notify(t, screen("Something else")); !st.RecoveryArmed {
		t.Fatal("expected recovery timeout armed")
	}
	if st := h.notify(t, planner()); st.RecoveryArmed {
		t.Error("planner should cancel the recovery timeout")
	}
}

// ========================================
// Timer lines
// ========================================

func TestRecoveryTimeoutForcesOneRefresh(t *testing.T) {
	timings := Timings{
		RecoveryTimeout: 30 * time.Millisecond,
		Backoff:         10 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		Settle:          50 * time.Millisecond,
		RefreshUnit:     time.Millisecond,
	}
	h := startEngine(t, timings, nil, errNoTree)
	h.store.Update(func(cfg *types.Configuration) {
		cfg.RefreshIntervalMs = types.NewDecimal(10000)
	})

	h.platform.mu.Lock()
	h.platform.onBack = func(p *fakePlatform) { p.setRoot(planner(), nil) }
	h.platform.mu.Unlock()
	h.platform.setRoot(screen("Driver profile"), nil)

	h.waitStatus(t, func(Status) bool { return len(h.events.ofKind(EventRefresh)) >= 2 })
	time.Sleep(100 * time.Millisecond)

	refreshes := h.events.ofKind(EventRefresh)
	if len(refreshes) != 2 {
		t.Fatalf("expected forced and regular refresh, got %+v", refreshes)
	}
	if refreshes[0].Detail != "forced" || refreshes[1].Detail != "" {
		t.Errorf("unexpected refresh order: %+v", refreshes)
	}
	if gap := refreshes[1].Time.Sub(refreshes[0].Time); gap < timings.Settle {
		t.Errorf("regular refresh came %v after the forced one, want at least %v", gap, timings.Settle)
	}
	if got := h.events.ofKind(EventRecoveryTimeout); len(got) != 1 {
		t.Errorf("expected one timeout, got %d", len(got))
	}
	if st := h.status(t); st.ForceRefresh || st.RecoveryArmed {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestRestartRecoveryTimeoutCancelsPrevious(t *testing.T) {
	timings := slowTimings()
	timings.RecoveryTimeout = 40 * time.Millisecond
	h := startEngine(t, timings, nil, errNoTree)

	restart := func() {
		ok := h.engine.call(context.Background(), func(context.Context) { h.engine.restartRecoveryTimeout() })
		if !ok {
			t.Fatal("call failed")
		}
	}
	restart()
	time.Sleep(20 * time.Millisecond)
	restart()
	time.Sleep(150 * time.Millisecond)

	if got := h.events.ofKind(EventRecoveryTimeout); len(got) != 1 {
		t.Errorf("expected exactly one timeout to fire, got %d", len(got))
	}
	if st := h.status(t); !st.ForceRefresh {
		t.Error("timeout recovery should set force refresh")
	}
}

func TestDisableShutsDownLines(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	if st := h.notify(t, screen("Unknown")); !st.RecoveryArmed || !st.Refreshing {
		t.Fatalf("expected both lines live, got %+v", st)
	}

	h.store.SetEnabled(false)
	st := h.waitStatus(t, func(st Status) bool { return !st.Running })
	if st.RecoveryArmed || st.Refreshing || st.HasPending {
		t.Errorf("lines should be stopped: %+v", st)
	}

	h.store.SetEnabled(true)
	st = h.waitStatus(t, func(st Status) bool { return st.Running })
	if !st.Refreshing {
		t.Error("refresh should be re-armed")
	}
	if got := h.events.ofKind(EventSessionStarted); len(got) != 2 {
		t.Errorf("expected two sessions, got %d", len(got))
	}
}

func TestFilterBudgetSharedAcrossCandidates(t *testing.T) {
	timings := slowTimings()
	timings.FilterBudget = 30 * time.Millisecond
	filter := &blockingFilter{}
	h := startEngine(t, timings, filter, errNoTree)

	start := time.Now()
	h.notify(t, planner(matchingJob, matchingJob, matchingJob))
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Errorf("scan held the loop for %v", took)
	}
	if got := filter.callCount(); got != 1 {
		t.Errorf("expected the filter to be consulted once, got %d", got)
	}
	if got := len(h.platform.getActions()); got != 0 {
		t.Errorf("expected no clicks, got %d", got)
	}

	// the next scan gets a fresh budget
	h.notify(t, planner(matchingJob))
	if got := filter.callCount(); got != 2 {
		t.Errorf("expected a second filter call, got %d", got)
	}
}

func TestEnableScansCurrentScreen(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	h.store.SetEnabled(false)
	h.waitStatus(t, func(st Status) bool { return !st.Running })

	// The planner is already showing and will not change on its own
	h.platform.setRoot(planner(matchingJob), nil)
	h.store.SetEnabled(true)

	st := h.waitStatus(t, func(st Status) bool { return st.HasPending })
	if st.Pending != matchingJob {
		t.Errorf("pending: got %q", st.Pending)
	}
	clicked := false
	for _, a := range h.platform.getActions() {
		if a == "click:"+CandidateID {
			clicked = true
		}
	}
	if !clicked {
		t.Errorf("expected the visible job to be clicked, got %v", h.platform.getActions())
	}
}

func TestJitterBounds(t *testing.T) {
	tests := []struct {
		r    float64
		want time.Duration
	}{
		{0, 800 * time.Millisecond},
		{0.5, 1000 * time.Millisecond},
		{1, 1200 * time.Millisecond},
	}
	for _, tt := range tests {
		r := tt.r
		e, err := New(Options{Platform: &fakePlatform{}, Config: enabledStore(), Rand: func() float64 { return r }})
		if err != nil {
			t.Fatal(err)
		}
		if got := e.jitter(1000); got != tt.want {
			t.Errorf("jitter(1000) with r=%v = %v, want %v", tt.r, got, tt.want)
		}
	}
}

func TestPanicInJobIsRecovered(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	ran := h.engine.call(context.Background(), func(context.Context) { panic("boom") })
	if ran {
		t.Error("panicking job should not report completion")
	}
	if st := h.status(t); !st.Running {
		t.Error("engine should keep running")
	}
}

func TestTreeChangedAfterStop(t *testing.T) {
	h := startEngine(t, slowTimings(), nil, errNoTree)
	h.stop()

	if err := h.engine.TreeChanged(context.Background(), planner()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
	if err := h.engine.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped from second Run, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Config: enabledStore()}); err == nil {
		t.Error("expected error without platform")
	}
	if _, err := New(Options{Platform: &fakePlatform{}}); err == nil {
		t.Error("expected error without config")
	}
}
