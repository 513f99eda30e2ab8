package sync

import (
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"caldav2google/internal/model"
	"caldav2google/internal/state"
)

var testLogger = slog.Default()

var (
	t1 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
)

func newEvent(uid string, lastModified time.Time) model.Event {
	return model.Event{
		UID:          uid,
		Summary:      "Event " + uid,
		Start:        t1,
		End:          t1.Add(time.Hour),
		LastModified: lastModified,
	}
}

func newRecord(uid, destID string, lastModified time.Time) state.Record {
	return state.Record{
		UID:           uid,
		Summary:       "Event " + uid,
		Start:         t1,
		End:           t1.Add(time.Hour),
		LastModified:  lastModified,
		DestinationID: destID,
	}
}

func createUIDs(cs *ChangeSet) []string {
	var uids []string
	for _, ev := range cs.ToCreate {
		uids = append(uids, ev.UID)
	}
	return uids
}

func updateUIDs(cs *ChangeSet) []string {
	var uids []string
	for _, p := range cs.ToUpdate {
		uids = append(uids, p.Event.UID)
	}
	return uids
}

func deleteUIDs(cs *ChangeSet) []string {
	var uids []string
	for _, rec := range cs.ToDelete {
		uids = append(uids, rec.UID)
	}
	return uids
}

func TestReconcile_EmptyPriorState_AllCreates(t *testing.T) {
	current := []model.Event{newEvent("b", t1), newEvent("a", t1)}

	cs, err := Reconcile(current, nil, testLogger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got, want := createUIDs(cs), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToCreate = %v, want %v", got, want)
	}
	if len(cs.ToUpdate) != 0 || len(cs.ToDelete) != 0 {
		t.Errorf("ToUpdate/ToDelete = %v/%v, want empty",
			updateUIDs(cs), deleteUIDs(cs))
	}
	if cs.Unchanged != 0 {
		t.Errorf("Unchanged = %d, want 0", cs.Unchanged)
	}
}

func TestReconcile_EmptyCurrent_AllDeletes(t *testing.T) {
	prior := map[string]state.Record{
		"b": newRecord("b", "dest-2", t1),
		"a": newRecord("a", "dest-1", t1),
	}

	cs, err := Reconcile(nil, prior, testLogger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got, want := deleteUIDs(cs), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToDelete = %v, want %v", got, want)
	}
	if len(cs.ToCreate) != 0 || len(cs.ToUpdate) != 0 {
		t.Error("expected no creates or updates")
	}
}

func TestReconcile_NewerLastModified_Update(t *testing.T) {
	prior := map[string]state.Record{"a": newRecord("a", "dest-1", t1)}
	current := []model.Event{newEvent("a", t2)}

	cs, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got, want := updateUIDs(cs), []string{"a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToUpdate = %v, want %v", got, want)
	}
	if cs.ToUpdate[0].Record.DestinationID != "dest-1" {
		t.Errorf("update pair DestinationID = %q, want dest-1",
			cs.ToUpdate[0].Record.DestinationID)
	}
	if len(cs.ToCreate) != 0 || len(cs.ToDelete) != 0 {
		t.Error("expected no creates or deletes")
	}
}

func TestReconcile_EqualLastModified_Unchanged(t *testing.T) {
	prior := map[string]state.Record{"a": newRecord("a", "dest-1", t1)}
	current := []model.Event{newEvent("a", t1)}

	cs, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !cs.Empty() {
		t.Errorf("change set not empty: create=%v update=%v delete=%v",
			createUIDs(cs), updateUIDs(cs), deleteUIDs(cs))
	}
	if cs.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", cs.Unchanged)
	}
}

func TestReconcile_OlderLastModified_NeverUpdates(t *testing.T) {
	// Clock-skew guard: a source event older than the synced snapshot must
	// not trigger an overwrite.
	prior := map[string]state.Record{"a": newRecord("a", "dest-1", t2)}
	current := []model.Event{newEvent("a", t1)}

	cs, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(cs.ToUpdate) != 0 {
		t.Errorf("ToUpdate = %v, want empty for older event", updateUIDs(cs))
	}
	if cs.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", cs.Unchanged)
	}
	if len(cs.ToDelete) != 0 {
		t.Errorf("ToDelete = %v, want empty", deleteUIDs(cs))
	}
}

func TestReconcile_MixedPartitionsAreDisjoint(t *testing.T) {
	prior := map[string]state.Record{
		"kept":    newRecord("kept", "dest-1", t1),
		"changed": newRecord("changed", "dest-2", t1),
		"gone":    newRecord("gone", "dest-3", t1),
	}
	current := []model.Event{
		newEvent("kept", t1),
		newEvent("changed", t2),
		newEvent("fresh", t1),
	}

	cs, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if got, want := createUIDs(cs), []string{"fresh"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToCreate = %v, want %v", got, want)
	}
	if got, want := updateUIDs(cs), []string{"changed"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToUpdate = %v, want %v", got, want)
	}
	if got, want := deleteUIDs(cs), []string{"gone"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToDelete = %v, want %v", got, want)
	}
	if cs.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", cs.Unchanged)
	}
}

func TestReconcile_DuplicateUID_Fatal(t *testing.T) {
	current := []model.Event{newEvent("a", t1), newEvent("a", t2)}

	_, err := Reconcile(current, nil, testLogger)
	if err == nil {
		t.Fatal("Reconcile succeeded with duplicate uid, want error")
	}
	var dup *DuplicateUIDError
	if !errors.As(err, &dup) {
		t.Fatalf("error = %v, want *DuplicateUIDError", err)
	}
	if dup.UID != "a" {
		t.Errorf("DuplicateUIDError.UID = %q, want %q", dup.UID, "a")
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	prior := map[string]state.Record{
		"m": newRecord("m", "dest-1", t1),
		"z": newRecord("z", "dest-2", t1),
		"d": newRecord("d", "dest-3", t1),
	}
	current := []model.Event{
		newEvent("q", t1), newEvent("b", t1), newEvent("x", t1),
		newEvent("m", t2), newEvent("z", t2),
	}

	first, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs produced different change sets:\n%+v\n%+v", first, second)
	}
	if got, want := createUIDs(first), []string{"b", "q", "x"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToCreate order = %v, want lexicographic %v", got, want)
	}
	if got, want := updateUIDs(first), []string{"m", "z"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToUpdate order = %v, want lexicographic %v", got, want)
	}
	if got, want := deleteUIDs(first), []string{"d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ToDelete order = %v, want %v", got, want)
	}
}

// Applying a change set to the prior state and reconciling again must yield
// an empty change set.
func TestReconcile_Idempotent(t *testing.T) {
	prior := map[string]state.Record{
		"changed": newRecord("changed", "dest-1", t1),
		"gone":    newRecord("gone", "dest-2", t1),
	}
	current := []model.Event{newEvent("changed", t2), newEvent("fresh", t1)}

	cs, err := Reconcile(current, prior, testLogger)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// Replay the change set onto the prior state the way the orchestrator
	// would after all destination calls succeed.
	next := make(map[string]state.Record, len(prior))
	for uid, rec := range prior {
		next[uid] = rec
	}
	for _, ev := range cs.ToCreate {
		next[ev.UID] = newRecord(ev.UID, "new-dest", ev.LastModified)
	}
	for _, p := range cs.ToUpdate {
		rec := p.Record
		rec.LastModified = p.Event.LastModified
		next[p.Event.UID] = rec
	}
	for _, rec := range cs.ToDelete {
		delete(next, rec.UID)
	}

	again, err := Reconcile(current, next, testLogger)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !again.Empty() {
		t.Errorf("second pass not empty: create=%v update=%v delete=%v",
			createUIDs(again), updateUIDs(again), deleteUIDs(again))
	}
	if again.Unchanged != len(current) {
		t.Errorf("Unchanged = %d, want %d", again.Unchanged, len(current))
	}
}
