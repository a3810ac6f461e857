package main

import (
	"sync"
	"testing"
	"time"

	"Toyol/pkg/gesture"
)

type fakeToggler struct {
	mu      sync.Mutex
	enabled bool
	toggles int
}

func (f *fakeToggler) Toggle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = !f.enabled
	f.toggles++
	return f.enabled
}

func (f *fakeToggler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggles
}

func newTestControl() (*Control, *fakeToggler) {
	svc := &fakeToggler{}
	return NewControl(svc, gesture.Options{Tolerance: 10, LongPress: time.Hour}), svc
}

func touch(c *Control, events ...gesture.Event) {
	for _, ev := range events {
		c.Touch(ev)
	}
}

func TestControlTapToggles(t *testing.T) {
	c, svc := newTestControl()
	touch(c,
		gesture.Event{Action: gesture.ActionDown, X: 5, Y: 105},
		gesture.Event{Action: gesture.ActionMove, X: 9, Y: 110},
		gesture.Event{Action: gesture.ActionUp, X: 9, Y: 110},
	)
	if svc.count() != 1 || !svc.enabled {
		t.Errorf("expected one toggle, got %d", svc.count())
	}
	if s := c.State(); s.X != controlHomeX || s.Y != controlHomeY {
		t.Errorf("a tap must not move the control, got %+v", s)
	}
}

func TestControlDragMoves(t *testing.T) {
	c, svc := newTestControl()
	touch(c,
		gesture.Event{Action: gesture.ActionDown, X: 0, Y: 0},
		gesture.Event{Action: gesture.ActionMove, X: 20, Y: 0},
		gesture.Event{Action: gesture.ActionMove, X: 30, Y: 40},
	)
	if s := c.State(); s.X != 30 || s.Y != 140 || !s.Dragging {
		t.Errorf("unexpected state mid-drag %+v", s)
	}
	touch(c, gesture.Event{Action: gesture.ActionUp, X: 30, Y: 40})

	// the next drag starts where the last one ended
	touch(c,
		gesture.Event{Action: gesture.ActionDown, X: 100, Y: 100},
		gesture.Event{Action: gesture.ActionMove, X: 80, Y: 100},
		gesture.Event{Action: gesture.ActionUp, X: 80, Y: 100},
	)
	if s := c.State(); s.X != 10 || s.Y != 140 || s.Dragging {
		t.Errorf("unexpected state after second drag %+v", s)
	}
	if svc.count() != 0 {
		t.Error("drags must not toggle the service")
	}
}

func TestControlLongPressHidesUntilShown(t *testing.T) {
	svc := &fakeToggler{}
	c := NewControl(svc, gesture.Options{Tolerance: 10, LongPress: 10 * time.Millisecond})

	touch(c, gesture.Event{Action: gesture.ActionDown, X: 1, Y: 1})
	deadline := time.Now().Add(time.Second)
	for c.State().Visible {
		if time.Now().After(deadline) {
			t.Fatal("long press did not hide the control")
		}
		time.Sleep(5 * time.Millisecond)
	}
	touch(c, gesture.Event{Action: gesture.ActionUp, X: 1, Y: 1})
	if svc.count() != 0 {
		t.Error("release after a long press must not toggle")
	}

	if c.Touch(gesture.Event{Action: gesture.ActionDown, X: 1, Y: 1}) {
		t.Error("touches on a hidden control should be ignored")
	}

	c.Show()
	s := c.State()
	if !s.Visible || s.X != controlHomeX || s.Y != controlHomeY {
		t.Errorf("Show should restore the control at home, got %+v", s)
	}
}

func TestControlCloseDiscardsLongPress(t *testing.T) {
	svc := &fakeToggler{}
	c := NewControl(svc, gesture.Options{Tolerance: 10, LongPress: 20 * time.Millisecond})

	touch(c, gesture.Event{Action: gesture.ActionDown, X: 1, Y: 1})
	c.Close()
	time.Sleep(60 * time.Millisecond)

	if !c.State().Visible {
		t.Error("a long press armed before Close must not fire")
	}
	if c.Touch(gesture.Event{Action: gesture.ActionDown, X: 1, Y: 1}) {
		t.Error("touches after Close should be ignored")
	}
	if svc.count() != 0 {
		t.Error("Close must not toggle the service")
	}
}
