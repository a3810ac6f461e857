// Package gesture turns a raw touch-event stream into tap, drag and
// long-press semantics for the floating control surface.
package gesture

import (
	"math"
	"sync"
	"time"
)

// Action is the kind of a raw touch event
type Action string

const (
	ActionDown   Action = "down"
	ActionMove   Action = "move"
	ActionUp     Action = "up"
	ActionCancel Action = "cancel"
)

// Event is one raw touch event in screen coordinates
type Event struct {
	Action Action  `json:"action"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Listener receives classified gestures. Calls are made without internal
// locks held; LongPress is called from the timer goroutine.
type Listener interface {
	// Offset reports the drag displacement from the touch origin
	Offset(dx, dy float64)
	// Tap reports a short press without drag
	Tap()
	// LongPress reports a press held past the long-press delay
	LongPress()
}

// Options tune the classifier
type Options struct {
	// Tolerance is the per-axis displacement that turns a press into a drag
	Tolerance float64
	// LongPress is how long a still press must be held
	LongPress time.Duration
}

// DefaultOptions returns a 10px tolerance and a one second long press
func DefaultOptions() Options {
	return Options{Tolerance: 10, LongPress: time.Second}
}

type session struct {
	originX, originY float64
	drag             bool
	timer            *time.Timer
}

// Classifier tracks one touch session at a time
type Classifier struct {
	mu       sync.Mutex
	opts     Options
	listener Listener
	current  *session
	gen      uint64
}

// New creates a Classifier reporting to listener
func New(opts Options, listener Listener) *Classifier {
	d := DefaultOptions()
	if opts.Tolerance <= 0 {
		opts.Tolerance = d.Tolerance
	}
	if opts.LongPress <= 0 {
		opts.LongPress = d.LongPress
	}
	return &Classifier{opts: opts, listener: listener}
}

// Handle feeds one raw event
func (c *Classifier) Handle(ev Event) {
	var emit func()

	c.mu.Lock()
	switch ev.Action {
	case ActionDown:
		c.discardLocked()
		c.gen++
		gen := c.gen
		s := &session{originX: ev.X, originY: ev.Y}
		s.timer = time.AfterFunc(c.opts.LongPress, func() { c.longPressFired(gen) })
		c.current = s

	case ActionMove:
		s := c.current
		if s == nil {
			break
		}
		dx, dy := ev.X-s.originX, ev.Y-s.originY
		if !s.drag && (math.Abs(dx) > c.opts.Tolerance || math.Abs(dy) > c.opts.Tolerance) {
			s.drag = true
			s.timer.Stop()
		}
		if s.drag {
			emit = func() { c.listener.Offset(dx, dy) }
		}

	case ActionUp:
		s := c.current
		if s == nil {
			break
		}
		s.timer.Stop()
		c.current = nil
		if !s.drag {
			emit = c.listener.Tap
		}

	case ActionCancel:
		c.discardLocked()
	}
	c.mu.Unlock()

	if emit != nil {
		emit()
	}
}

// Reset discards any session in progress without reporting anything
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked()
}

// Dragging reports whether the current session has become a drag
func (c *Classifier) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.drag
}

func (c *Classifier) discardLocked() {
	if c.current == nil {
		return
	}
	c.current.timer.Stop()
	c.current = nil
}

func (c *Classifier) longPressFired(gen uint64) {
	c.mu.Lock()
	s := c.current
	if s == nil || c.gen != gen || s.drag {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()

	c.listener.LongPress()
}
