package sync

import (
	"fmt"
	"log/slog"
	"sort"

	"caldav2google/internal/model"
	"caldav2google/internal/state"
)

// UpdatePair couples a changed source event with the sync record it
// supersedes. The record carries the destination identifier the update call
// needs.
type UpdatePair struct {
	Event  model.Event
	Record state.Record
}

// ChangeSet is the output of one reconciliation pass: three disjoint lists,
// each ordered lexicographically by UID so that identical inputs always
// produce identical change sets.
type ChangeSet struct {
	ToCreate []model.Event
	ToUpdate []UpdatePair
	ToDelete []state.Record

	// Unchanged counts events present on both sides with no newer
	// modification time. They appear in none of the three lists.
	Unchanged int
}

// Empty reports whether the change set contains no mutations.
func (cs *ChangeSet) Empty() bool {
	return len(cs.ToCreate) == 0 && len(cs.ToUpdate) == 0 && len(cs.ToDelete) == 0
}

// DuplicateUIDError reports two events in one source fetch sharing a UID.
// It is fatal to the reconciliation pass: it is ambiguous which of the two is
// authoritative, and guessing risks overwriting the wrong destination event.
type DuplicateUIDError struct {
	UID string
}

func (e *DuplicateUIDError) Error() string {
	return fmt.Sprintf("duplicate event uid %q in source calendar", e.UID)
}

// Reconcile diffs the current source events against the prior sync state and
// classifies each UID:
//
//   - present in current only → create
//   - present in both, strictly newer LastModified → update
//   - present in both, equal or older LastModified → unchanged (an older
//     value is a clock-skew signal and is logged, never applied)
//   - present in prior only → delete
//
// Reconcile performs no I/O and never mutates the store; given identical
// inputs it returns a byte-for-byte identical change set.
func Reconcile(current []model.Event, prior map[string]state.Record, logger *slog.Logger) (*ChangeSet, error) {
	byUID := make(map[string]model.Event, len(current))
	for _, ev := range current {
		if _, seen := byUID[ev.UID]; seen {
			return nil, &DuplicateUIDError{UID: ev.UID}
		}
		byUID[ev.UID] = ev
	}

	currentUIDs := make([]string, 0, len(byUID))
	for uid := range byUID {
		currentUIDs = append(currentUIDs, uid)
	}
	sort.Strings(currentUIDs)

	cs := &ChangeSet{}
	for _, uid := range currentUIDs {
		ev := byUID[uid]
		rec, tracked := prior[uid]
		if !tracked {
			cs.ToCreate = append(cs.ToCreate, ev)
			continue
		}
		switch {
		case ev.LastModified.After(rec.LastModified):
			cs.ToUpdate = append(cs.ToUpdate, UpdatePair{Event: ev, Record: rec})
		case ev.LastModified.Before(rec.LastModified):
			// Out-of-order modification time must never trigger a spurious
			// overwrite; surface it and treat the event as unchanged.
			logger.Warn("source event older than synced snapshot",
				"uid", uid,
				"source_modified", ev.LastModified,
				"synced_modified", rec.LastModified,
			)
			cs.Unchanged++
		default:
			cs.Unchanged++
		}
	}

	priorUIDs := make([]string, 0, len(prior))
	for uid := range prior {
		priorUIDs = append(priorUIDs, uid)
	}
	sort.Strings(priorUIDs)

	for _, uid := range priorUIDs {
		if _, present := byUID[uid]; !present {
			cs.ToDelete = append(cs.ToDelete, prior[uid])
		}
	}

	return cs, nil
}
