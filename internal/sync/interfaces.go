// Package sync implements the change-detection and reconciliation engine for
// caldav2google. It compares the current CalDAV event set against the
// persisted sync state, classifies every event as created, updated, deleted,
// or unchanged, and applies the resulting change set to the destination
// calendar with write-after-success state bookkeeping.
//
// The package contains two main components:
//
//   - [Reconcile] is the pure diff: (current events, prior state) → [ChangeSet].
//   - [Engine] runs one full pass: fetch, reconcile, apply, flush.
package sync

import (
	"context"

	"caldav2google/internal/model"
	"caldav2google/internal/state"
)

// Source provides the current event set of the source calendar.
// Implemented by [caldav.Client].
type Source interface {
	FetchEvents(ctx context.Context) ([]model.Event, error)
}

// Destination performs create/update/delete calls against the destination
// calendar. Implemented by [gcal.Client].
//
// DeleteEvent must treat an already-absent destination identifier as success.
type Destination interface {
	CreateEvent(ctx context.Context, ev model.Event) (destinationID string, err error)
	UpdateEvent(ctx context.Context, destinationID string, ev model.Event) error
	DeleteEvent(ctx context.Context, destinationID string) error
}

// StateStore provides access to the persisted sync state.
// Implemented by [state.Store]. Upsert and Remove stage changes in memory;
// Flush persists the whole mapping atomically.
type StateStore interface {
	All() map[string]state.Record
	Upsert(rec state.Record)
	Remove(uid string)
	Flush(ctx context.Context) error
}
