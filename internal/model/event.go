// Package model defines shared types used across the sync engine and adapters.
package model

import "time"

// Event is the canonical representation of one calendar event as fetched from
// the CalDAV source, shared between the CalDAV adapter, the reconciler, and
// the Google Calendar adapter.
//
// All timestamps are UTC. Events are normalised by the CalDAV adapter before
// they reach the sync engine; the engine never sees a raw VEVENT.
type Event struct {
	// UID is the globally unique identifier assigned by the source system.
	// Immutable; primary identity key. Detached recurrence instances carry
	// the RECURRENCE-ID instant as a suffix so they stay distinct from the
	// master event.
	UID string

	// Summary is the event's display title.
	Summary string

	// Description is the event's body text. May be empty.
	Description string

	// Location is the free-form location text. May be empty.
	Location string

	// Start and End are the event instants in UTC. Start == End is valid and
	// represents a zero-duration marker; Start after End never leaves the
	// normaliser.
	Start time.Time
	End   time.Time

	// LastModified is the source-reported modification instant in UTC. It is
	// the sole signal used to classify an event as updated.
	LastModified time.Time
}

// ZeroDuration reports whether the event is a zero-duration marker.
func (e Event) ZeroDuration() bool {
	return e.Start.Equal(e.End)
}
