package sync

import (
	"context"
	"fmt"

	"caldav2google/internal/model"
	"caldav2google/internal/state"
)

// --- Mock Source -------------------------------------------------------------

type mockSource struct {
	events []model.Event
	err    error
}

func (m *mockSource) FetchEvents(_ context.Context) ([]model.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

// --- Mock Destination --------------------------------------------------------

// mockDestination tracks every call and can be told to fail specific UIDs or
// destination IDs.
type mockDestination struct {
	created map[string]model.Event // destinationID → event
	updated map[string]model.Event // destinationID → event
	deleted []string               // destinationIDs

	failCreate map[string]error // event UID → error
	failUpdate map[string]error // event UID → error
	failDelete map[string]error // destinationID → error

	nextID int
	calls  []string // op log in call order, e.g. "create ev-1"
}

func newMockDestination() *mockDestination {
	return &mockDestination{
		created:    make(map[string]model.Event),
		updated:    make(map[string]model.Event),
		failCreate: make(map[string]error),
		failUpdate: make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (m *mockDestination) CreateEvent(_ context.Context, ev model.Event) (string, error) {
	m.calls = append(m.calls, "create "+ev.UID)
	if err := m.failCreate[ev.UID]; err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("dest-%d", m.nextID)
	m.created[id] = ev
	return id, nil
}

func (m *mockDestination) UpdateEvent(_ context.Context, destID string, ev model.Event) error {
	m.calls = append(m.calls, "update "+ev.UID)
	if err := m.failUpdate[ev.UID]; err != nil {
		return err
	}
	m.updated[destID] = ev
	return nil
}

func (m *mockDestination) DeleteEvent(_ context.Context, destID string) error {
	m.calls = append(m.calls, "delete "+destID)
	if err := m.failDelete[destID]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, destID)
	return nil
}

// --- Mock State Store --------------------------------------------------------

type mockStore struct {
	records    map[string]state.Record
	flushCount int
	flushErr   error

	// flushed snapshots what the store held at each Flush call.
	flushed []map[string]state.Record
}

func newMockStore(records ...state.Record) *mockStore {
	m := &mockStore{records: make(map[string]state.Record)}
	for _, rec := range records {
		m.records[rec.UID] = rec
	}
	return m
}

func (m *mockStore) All() map[string]state.Record {
	out := make(map[string]state.Record, len(m.records))
	for uid, rec := range m.records {
		out[uid] = rec
	}
	return out
}

func (m *mockStore) Upsert(rec state.Record) {
	m.records[rec.UID] = rec
}

func (m *mockStore) Remove(uid string) {
	delete(m.records, uid)
}

func (m *mockStore) Flush(_ context.Context) error {
	m.flushCount++
	if m.flushErr != nil {
		return m.flushErr
	}
	m.flushed = append(m.flushed, m.All())
	return nil
}

// --- Counting throttle -------------------------------------------------------

type countingThrottle struct {
	waits int
}

func (t *countingThrottle) Wait(_ context.Context) error {
	t.waits++
	return nil
}
