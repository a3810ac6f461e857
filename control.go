package main

import (
	"sync"

	"Toyol/pkg/gesture"
	"Toyol/pkg/types"
)

// default placement of the control, top-left below the status bar
const (
	controlHomeX = 0
	controlHomeY = 100
)

// ServiceToggler flips the service-enabled flag; *settings.Store implements it
type ServiceToggler interface {
	Toggle() bool
}

// Control is the floating on/off button. Touches go through a gesture
// classifier: a tap toggles the service, a drag moves the button and a long
// press hides it until Show is called.
type Control struct {
	mu      sync.Mutex
	x, y    float64
	originX float64
	originY float64
	visible bool
	closed  bool

	service    ServiceToggler
	classifier *gesture.Classifier
}

// NewControl creates a visible control at its home position
func NewControl(service ServiceToggler, opts gesture.Options) *Control {
	c := &Control{
		x:       controlHomeX,
		y:       controlHomeY,
		visible: true,
		service: service,
	}
	c.classifier = gesture.New(opts, controlListener{c})
	return c
}

// Touch feeds one raw touch event. Touches on a hidden or closed control are ignored.
func (c *Control) Touch(ev gesture.Event) bool {
	c.mu.Lock()
	if !c.visible || c.closed {
		c.mu.Unlock()
		return false
	}
	if ev.Action == gesture.ActionDown {
		c.originX, c.originY = c.x, c.y
	}
	c.mu.Unlock()

	c.classifier.Handle(ev)
	return true
}

// Show makes a hidden control visible again at its home position
func (c *Control) Show() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible {
		return
	}
	c.visible = true
	c.x, c.y = controlHomeX, controlHomeY
	ControlLog().Msg("Control shown")
}

// Close discards the touch in progress, including an armed long press,
// and ignores later touches
func (c *Control) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.classifier.Reset()
}

// State returns a copy of the current state
func (c *Control) State() types.ControlState {
	dragging := c.classifier.Dragging()
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.ControlState{X: c.x, Y: c.y, Visible: c.visible, Dragging: dragging}
}

// controlListener keeps the gesture callbacks off the Control's exported API
type controlListener struct {
	c *Control
}

func (l controlListener) Offset(dx, dy float64) {
	l.c.mu.Lock()
	l.c.x = l.c.originX + dx
	l.c.y = l.c.originY + dy
	l.c.mu.Unlock()
}

func (l controlListener) Tap() {
	enabled := l.c.service.Toggle()
	LogUserAction(ActionServiceToggle, map[string]interface{}{"enabled": enabled})
}

func (l controlListener) LongPress() {
	l.c.mu.Lock()
	l.c.visible = false
	l.c.mu.Unlock()
	LogUserAction(ActionControlHide, nil)
}
