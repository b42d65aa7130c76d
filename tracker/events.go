package tracker

import (
	"log"

	"github.com/cinefocus/go-cinefocus"
)

// EventKind identifies the type of tracker event
type EventKind int

const (
	// EventModeChanged fires when the active focus mode changes
	EventModeChanged EventKind = iota
	// EventTargetSet fires when a click installs a new tracked point
	EventTargetSet
	// EventMaskAccepted fires when a mask result passed validation and
	// updated a target
	EventMaskAccepted
	// EventDrift fires when a mask was rejected for excessive area change
	// and the target reverted to its initial click point
	EventDrift
	// EventTrackLost fires when a target hard-failed and requires a fresh
	// click
	EventTrackLost
	// EventSubjectAdded fires when a priority subject is added
	EventSubjectAdded
	// EventSubjectRemoved fires when a priority subject is removed
	EventSubjectRemoved
	// EventTrackingStale fires once per episode when a target has gone too
	// long without a fresh accepted mask
	EventTrackingStale
	// EventEncodeFailed fires when a frame embedding encode returned an
	// error.  Tracking continues against the previously cached embedding
	EventEncodeFailed
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventModeChanged:
		return "mode_changed"
	case EventTargetSet:
		return "target_set"
	case EventMaskAccepted:
		return "mask_accepted"
	case EventDrift:
		return "drift"
	case EventTrackLost:
		return "track_lost"
	case EventSubjectAdded:
		return "subject_added"
	case EventSubjectRemoved:
		return "subject_removed"
	case EventTrackingStale:
		return "tracking_stale"
	case EventEncodeFailed:
		return "encode_failed"
	}
	return "unknown"
}

// Event carries the details of a single tracker state change.  Events are
// emitted synchronously from within tracker calls, sinks must not call back
// into the tracker
type Event struct {
	Kind EventKind
	// TargetID is the tracked target or subject the event concerns, 0 when
	// not target specific
	TargetID int64
	// Mode is the focus mode active after the event
	Mode Mode
	// Point is the tracked or clicked point relevant to the event
	Point cinefocus.Point
	// Area is the sampled mask area for mask acceptance events
	Area int
	// Err carries the cause for failure events
	Err error
}

// EventSink receives tracker events.  It replaces in-band debug logging so
// tracking logic stays decoupled from any UI or output surface
type EventSink interface {
	TrackerEvent(Event)
}

// LogSink writes tracker events to the standard logger
type LogSink struct{}

// TrackerEvent logs the event
func (LogSink) TrackerEvent(e Event) {
	switch {
	case e.Err != nil:
		log.Printf("tracker: %s target=%d mode=%s err=%v", e.Kind, e.TargetID, e.Mode, e.Err)
	case e.Kind == EventMaskAccepted:
		log.Printf("tracker: %s target=%d point=(%.3f, %.3f) area=%d", e.Kind, e.TargetID, e.Point.X, e.Point.Y, e.Area)
	default:
		log.Printf("tracker: %s target=%d mode=%s point=(%.3f, %.3f)", e.Kind, e.TargetID, e.Mode, e.Point.X, e.Point.Y)
	}
}

// nopSink discards all events
type nopSink struct{}

func (nopSink) TrackerEvent(Event) {}
