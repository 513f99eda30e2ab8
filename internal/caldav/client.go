// Package caldav fetches events from a CalDAV calendar and normalises them
// into the canonical event model. Discovery follows RFC 4791: current user
// principal → calendar home set → calendar by display name.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	caldavproto "github.com/emersion/go-webdav/caldav"

	"caldav2google/internal/model"
)

// Client fetches the current event set of one named CalDAV calendar.
type Client struct {
	client       *caldavproto.Client
	calendarName string
	calendarPath string
	log          *slog.Logger
}

// NewClient connects to the CalDAV server with HTTP basic auth and resolves
// the named calendar. The calendar name match is case-insensitive.
func NewClient(ctx context.Context, serverURL, username, password, calendarName string, logger *slog.Logger) (*Client, error) {
	var httpClient webdav.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	if username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	client, err := caldavproto.NewClient(httpClient, serverURL)
	if err != nil {
		return nil, fmt.Errorf("creating CalDAV client for %q: %w", serverURL, err)
	}

	c := &Client{client: client, calendarName: calendarName, log: logger}
	if err := c.resolveCalendar(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// resolveCalendar walks principal → home set → calendars and picks the one
// whose display name matches (case-insensitively) the configured name.
func (c *Client) resolveCalendar(ctx context.Context) error {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("finding current user principal: %w", err)
	}

	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return fmt.Errorf("finding calendar home set: %w", err)
	}

	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return fmt.Errorf("listing calendars: %w", err)
	}
	if len(calendars) == 0 {
		return errors.New("no calendars found on the server")
	}

	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, c.calendarName) {
			c.calendarPath = cal.Path
			c.log.Debug("calendar resolved", "name", cal.Name, "path", cal.Path)
			return nil
		}
	}
	return fmt.Errorf("no calendar named %q found", c.calendarName)
}

// FetchEvents retrieves all VEVENTs of the calendar and normalises them.
// Malformed events and events with ambiguous floating times are logged and
// skipped; they never abort the fetch.
func (c *Client) FetchEvents(ctx context.Context) ([]model.Event, error) {
	query := &caldavproto.CalendarQuery{
		CompRequest: caldavproto.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldavproto.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldavproto.CompFilter{
				{Name: ical.CompEvent},
			},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("querying calendar %q: %w", c.calendarPath, err)
	}

	var events []model.Event
	var skipped int
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := convertEvent(comp)
			if err != nil {
				c.log.Warn("skipping source event", "path", obj.Path, "error", err)
				skipped++
				continue
			}
			events = append(events, ev)
		}
	}

	c.log.Debug("caldav fetch complete",
		"calendar", c.calendarName,
		"events", len(events),
		"skipped", skipped,
	)
	return events, nil
}
