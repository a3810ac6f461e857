package engine

import "time"

// Fixed markers of the driver app's screens
const (
	MarkerBookingConfirmed = "Booking is confirmed!"
	MarkerClose            = "Close"
	MarkerConfirm          = "Confirm"
	MarkerAccept           = "Accept"
	MarkerCancel           = "Cancel"
	MarkerPlanner          = "Booking Planner"

	CandidateID     = "com.grabtaxi.driver2:id/unified_item_layout"
	BackIconID      = "com.grabtaxi.driver2:id/jobs_toolbar_left_icon"
	BackDescription = "Back"
)

// ErrorMarkers are status texts that send the automaton back to the planner
var ErrorMarkers = []string{"Slots are fully reserved", "Request timed out"}

// Screen identifies what the last scan recognized
type Screen string

const (
	ScreenNone             Screen = ""
	ScreenBookingConfirmed Screen = "booking_confirmed"
	ScreenConfirm          Screen = "confirm"
	ScreenAccept           Screen = "accept"
	ScreenError            Screen = "error"
	ScreenPlanner          Screen = "planner"
	ScreenUnknown          Screen = "unknown"
)

// EventKind classifies journal events
type EventKind string

const (
	EventSessionStarted   EventKind = "session_started"
	EventSessionStopped   EventKind = "session_stopped"
	EventBookingConfirmed EventKind = "booking_confirmed"
	EventConfirmClicked   EventKind = "confirm_clicked"
	EventJobClicked       EventKind = "job_clicked"
	EventJobAccepted      EventKind = "job_accepted"
	EventJobRejected      EventKind = "job_rejected"
	EventErrorScreen      EventKind = "error_screen"
	EventRecovery         EventKind = "recovery"
	EventRecoveryTimeout  EventKind = "recovery_timeout"
	EventRefresh          EventKind = "refresh"
)

// Event is one thing the automaton did or decided
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Recorder receives engine events. Record is called on the engine loop and
// must not block for long.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ev Event)

func (f RecorderFunc) Record(ev Event) { f(ev) }

// Recorders fans an event out to several recorders
type Recorders []Recorder

func (rs Recorders) Record(ev Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(ev)
		}
	}
}
