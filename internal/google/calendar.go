package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calmerge/internal/logging"
	"calmerge/internal/models"
)

// Scopes needed to read source calendars and write the destination calendar.
var Scopes = []string{
	calendar.CalendarReadonlyScope,
	calendar.CalendarEventsScope,
}

// 403 reasons that concern a single request rather than our credentials.
var itemForbiddenReasons = map[string]bool{
	"rateLimitExceeded":           true,
	"userRateLimitExceeded":       true,
	"quotaExceeded":               true,
	"forbiddenForNonOrganizer":    true,
	"forbiddenForServiceAccounts": true,
}

// CalendarClient reads and writes events through the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewServiceAccountClient creates a client authenticated with a service
// account key file. Calendars must be shared with the service account.
func NewServiceAccountClient(ctx context.Context, logger *slog.Logger, credentialsFile string) (*CalendarClient, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account file: %w", err)
	}

	service, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewClientFromService(service, logger), nil
}

// NewClient creates a client for an account authorised with the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenFile string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token %s: %w. Please run the 'auth' command first", tokenFile, err)
	}

	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewClientFromService(service, logger), nil
}

// NewClientFromService wraps an existing calendar service.
func NewClientFromService(service *calendar.Service, logger *slog.Logger) *CalendarClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarClient{service: service, logger: logging.WithStore(logger, "google")}
}

// ListEvents fetches every event of the calendar, page by page.
// Cancelled occurrences are left out.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string) ([]models.Event, error) {
	c.logger.Debug("Fetching events", logging.Calendar(calendarID))

	var events []models.Event
	pages := 0
	err := c.service.Events.List(calendarID).Pages(ctx, func(page *calendar.Events) error {
		pages++
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			events = append(events, toInternalEvent(item, calendarID))
		}
		return nil
	})
	if err != nil {
		return nil, &models.TransportError{Op: "list events of " + calendarID, Err: err}
	}

	c.logger.Info("Fetched events from Google Calendar", logging.Calendar(calendarID), "count", len(events), "pages", pages)
	return events, nil
}

// ImportEvent imports e into the calendar. Importing is keyed by iCalUID, so
// re-importing the same UID updates the existing copy. Events without a UID
// get a new one.
func (c *CalendarClient) ImportEvent(ctx context.Context, calendarID string, e models.Event) (models.Event, error) {
	body := toGoogleEvent(e)
	if body.ICalUID == "" {
		body.ICalUID = uuid.New().String() + "@calmerge"
	}

	created, err := c.service.Events.Import(calendarID, body).Context(ctx).Do()
	if err != nil {
		return models.Event{}, classify("import event into "+calendarID, err)
	}

	c.logger.Debug("Imported event", logging.Calendar(calendarID), logging.Event(e.Summary), logging.EventID(created.Id))
	return toInternalEvent(created, calendarID), nil
}

// DeleteEvent deletes an event. An event that is already gone counts as deleted.
func (c *CalendarClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		if statusCode(err) == http.StatusGone {
			c.logger.Debug("Event already deleted", logging.Calendar(calendarID), logging.EventID(eventID))
			return nil
		}
		return classify("delete event from "+calendarID, err)
	}
	return nil
}

// ListCalendars lists the calendars visible to the authenticated account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	var calendars []CalendarInfo
	err := c.service.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			calendars = append(calendars, CalendarInfo{
				ID:         item.Id,
				Summary:    item.Summary,
				AccessRole: item.AccessRole,
				Primary:    item.Primary,
			})
		}
		return nil
	})
	if err != nil {
		return nil, &models.TransportError{Op: "list calendars", Err: err}
	}
	return calendars, nil
}

// CalendarInfo describes a calendar of the authenticated account.
type CalendarInfo struct {
	ID         string
	Summary    string
	AccessRole string
	Primary    bool
}

// classify wraps err as a TransportError when it concerns the connection or
// our credentials. Anything else fails only the one event.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &models.TransportError{Op: op, Err: err}
	}

	switch gerr.Code {
	case http.StatusUnauthorized:
		return &models.TransportError{Op: op, Err: err}
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			if itemForbiddenReasons[item.Reason] {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		return &models.TransportError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
