// Package gcal wraps the Google Calendar API for the destination side of the
// sync: locating the destination calendar by name and performing
// create/update/delete calls with [DestinationError] classification.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"caldav2google/internal/model"
)

// DestinationError reports one rejected Google Calendar API call, carrying
// the HTTP status the API answered with.
type DestinationError struct {
	StatusCode int
	Message    string
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("google calendar: %s (status %d)", e.Message, e.StatusCode)
}

// NotFound reports whether the destination answered 404 or 410.
func (e *DestinationError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// wrapAPIError converts a googleapi error into a DestinationError; other
// errors (transport failures, context cancellation) pass through wrapped.
func wrapAPIError(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &DestinationError{StatusCode: gErr.Code, Message: gErr.Message}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Client performs event operations against one Google calendar.
type Client struct {
	service    *calendar.Service
	calendarID string
	log        *slog.Logger
}

// NewClient builds a calendar service using the given options and resolves
// the destination calendar whose summary matches calendarName
// (case-insensitively).
func NewClient(ctx context.Context, calendarName string, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}

	c := &Client{service: service, log: logger}
	if c.calendarID, err = findCalendarID(service, calendarName); err != nil {
		return nil, err
	}
	logger.Debug("destination calendar resolved", "name", calendarName, "id", c.calendarID)
	return c, nil
}

// findCalendarID pages through the calendar list and returns the ID of the
// calendar whose summary matches name case-insensitively.
func findCalendarID(service *calendar.Service, name string) (string, error) {
	pageToken := ""
	for {
		call := service.CalendarList.List()
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return "", fmt.Errorf("listing calendars: %w", err)
		}
		for _, entry := range list.Items {
			if strings.EqualFold(entry.Summary, name) {
				return entry.Id, nil
			}
		}
		if list.NextPageToken == "" {
			return "", fmt.Errorf("no calendar named %q found", name)
		}
		pageToken = list.NextPageToken
	}
}

// CreateEvent inserts the event and returns the destination identifier
// Google assigned to it.
func (c *Client) CreateEvent(ctx context.Context, ev model.Event) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", wrapAPIError("inserting event", err)
	}
	return created.Id, nil
}

// UpdateEvent overwrites the destination event identified by destinationID.
func (c *Client) UpdateEvent(ctx context.Context, destinationID string, ev model.Event) error {
	_, err := c.service.Events.Update(c.calendarID, destinationID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		return wrapAPIError("updating event", err)
	}
	return nil
}

// DeleteEvent removes the destination event. Deleting an identifier that is
// already absent at the destination is success — the desired end state holds.
func (c *Client) DeleteEvent(ctx context.Context, destinationID string) error {
	err := c.service.Events.Delete(c.calendarID, destinationID).Context(ctx).Do()
	if err != nil {
		wrapped := wrapAPIError("deleting event", err)
		var dErr *DestinationError
		if errors.As(wrapped, &dErr) && dErr.NotFound() {
			c.log.Debug("destination event already absent", "destination_id", destinationID)
			return nil
		}
		return wrapped
	}
	return nil
}

// toGoogleEvent maps a canonical event onto the Google Calendar wire shape.
// Timestamps are always sent as UTC date-times.
func toGoogleEvent(ev model.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
}
