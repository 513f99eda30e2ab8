package caldav

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"caldav2google/internal/model"
)

// MalformedEventError reports a VEVENT missing a required field or carrying
// one that cannot be parsed. The event is skipped; the fetch continues.
type MalformedEventError struct {
	UID   string // may be empty when the UID itself is missing
	Field string
	Err   error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event %q: field %s: %v", e.UID, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed event %q: field %s is missing", e.UID, e.Field)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// AmbiguousTimeError reports a floating (timezone-less) DATE-TIME value.
// Such values cannot be mapped to an instant without guessing a zone, so the
// event is skipped rather than silently assumed to be in any particular zone.
type AmbiguousTimeError struct {
	UID   string
	Field string
}

func (e *AmbiguousTimeError) Error() string {
	return fmt.Sprintf("event %q: field %s has a floating time with no timezone", e.UID, e.Field)
}

// convertEvent normalises one VEVENT component into a canonical event.
// It is pure: no I/O, no mutation of the component.
func convertEvent(comp *ical.Component) (model.Event, error) {
	var ev model.Event

	uidProp := comp.Props.Get(ical.PropUID)
	if uidProp == nil || uidProp.Value == "" {
		return ev, &MalformedEventError{Field: "UID"}
	}
	ev.UID = uidProp.Value

	start, err := propInstant(ev.UID, "DTSTART", comp.Props.Get(ical.PropDateTimeStart))
	if err != nil {
		return ev, err
	}
	ev.Start = start

	end, err := propInstant(ev.UID, "DTEND", comp.Props.Get(ical.PropDateTimeEnd))
	if err != nil {
		return ev, err
	}
	ev.End = end

	if ev.Start.After(ev.End) {
		return ev, &MalformedEventError{
			UID:   ev.UID,
			Field: "DTEND",
			Err:   fmt.Errorf("end %s before start %s", ev.End.Format(time.RFC3339), ev.Start.Format(time.RFC3339)),
		}
	}

	lastMod := comp.Props.Get(ical.PropLastModified)
	if lastMod == nil {
		return ev, &MalformedEventError{UID: ev.UID, Field: "LAST-MODIFIED"}
	}
	t, err := lastMod.DateTime(time.UTC)
	if err != nil {
		return ev, &MalformedEventError{UID: ev.UID, Field: "LAST-MODIFIED", Err: err}
	}
	ev.LastModified = t.UTC()

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		ev.Location = p.Value
	}

	// A detached instance of a recurring event shares the master's UID;
	// suffix it with the recurrence instant so both keep distinct identity.
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		rid, err := propInstant(ev.UID, "RECURRENCE-ID", p)
		if err != nil {
			return ev, err
		}
		ev.UID = ev.UID + "-" + rid.Format(time.RFC3339)
	}

	return ev, nil
}

// propInstant resolves a date or date-time property to a UTC instant.
//
//   - VALUE=DATE (all-day) values are calendar dates, not timestamps, and
//     resolve to UTC midnight.
//   - DATE-TIME values must carry a zone, either the trailing Z or a TZID
//     parameter. Floating values are rejected as ambiguous.
func propInstant(uid, field string, prop *ical.Prop) (time.Time, error) {
	if prop == nil {
		return time.Time{}, &MalformedEventError{UID: uid, Field: field}
	}

	isDate := prop.Params.Get(ical.ParamValue) == string(ical.ValueDate)
	if !isDate && prop.Params.Get(ical.ParamTimezoneID) == "" && !strings.HasSuffix(prop.Value, "Z") {
		return time.Time{}, &AmbiguousTimeError{UID: uid, Field: field}
	}

	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, &MalformedEventError{UID: uid, Field: field, Err: err}
	}
	return t.UTC(), nil
}
