package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"calmerge/internal/logging"
	"calmerge/internal/models"
)

const (
	// DefaultEndpoint is the iCloud CalDAV endpoint.
	DefaultEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// errUnauthorized is returned by the transport when the server rejects the credentials.
var errUnauthorized = errors.New("caldav: credentials rejected")

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calmerge/1.0")

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, errUnauthorized
	}
	return resp, nil
}

// CalDAVClient is an event store backed by a CalDAV server such as iCloud.
//
// Calendar IDs are either collection paths (starting with "/") or display
// names, which are resolved once and cached.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger

	mu    sync.Mutex
	paths map[string]string
}

// NewClient creates a CalDAVClient. An empty endpoint selects iCloud.
func NewClient(logger *slog.Logger, endpoint, username, password string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Transport: &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logging.WithStore(logger, "caldav"),
		paths:        make(map[string]string),
	}, nil
}

// ListEvents returns the events stored in the calendar collection.
func (c *CalDAVClient) ListEvents(ctx context.Context, calendarID string) ([]models.Event, error) {
	calPath, err := c.resolve(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT"}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, &models.TransportError{Op: "query calendar " + calendarID, Err: err}
	}

	var events []models.Event
	for _, obj := range objects {
		e, ok := fromICal(obj.Data)
		if !ok {
			c.logger.Debug("Skipping calendar object without an event", "path", obj.Path)
			continue
		}
		e.ID = obj.Path
		e.Calendar = calendarID
		events = append(events, e)
	}

	c.logger.Info("Fetched events from CalDAV", logging.Calendar(calendarID), "count", len(events))
	return events, nil
}

// ImportEvent writes e as a calendar object named after its UID, replacing
// any object of the same name.
func (c *CalDAVClient) ImportEvent(ctx context.Context, calendarID string, e models.Event) (models.Event, error) {
	calPath, err := c.resolve(ctx, calendarID)
	if err != nil {
		return models.Event{}, err
	}

	if e.UID == "" {
		e.UID = GenerateUID()
	}
	cal := toICal(e)
	objPath := objectPath(calPath, e.UID)

	obj, err := c.caldavClient.PutCalendarObject(ctx, objPath, cal)
	if err != nil {
		return models.Event{}, classify("put "+objPath, err)
	}

	c.logger.Debug("Stored event", logging.Event(e.Summary), "path", obj.Path)
	e.ID = obj.Path
	e.Calendar = calendarID
	return e, nil
}

// DeleteEvent removes the calendar object at eventID.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.caldavClient.RemoveAll(ctx, eventID); err != nil {
		if webdav.IsNotFound(err) {
			c.logger.Debug("Event already deleted", logging.Calendar(calendarID), logging.EventID(eventID))
			return nil
		}
		return classify("delete "+eventID, err)
	}
	return nil
}

// ListCalendars returns the calendars of the current user.
func (c *CalDAVClient) ListCalendars(ctx context.Context) ([]caldav.Calendar, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, &models.TransportError{Op: "find principal path", Err: err}
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, &models.TransportError{Op: "find calendar home set", Err: err}
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, &models.TransportError{Op: "find calendars", Err: err}
	}
	return calendars, nil
}

// resolve maps a calendar ID to its collection path.
func (c *CalDAVClient) resolve(ctx context.Context, calendarID string) (string, error) {
	if strings.HasPrefix(calendarID, "/") {
		return calendarID, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.paths[calendarID]; ok {
		return p, nil
	}

	c.logger.Info("Finding CalDAV calendar", "calendarName", calendarID)
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	for _, cal := range calendars {
		if cal.Name == calendarID {
			c.paths[calendarID] = cal.Path
			return cal.Path, nil
		}
	}
	return "", models.NewConfigurationError(fmt.Sprintf("no CalDAV calendar named %q", calendarID))
}

// objectPath returns the path of the object holding the event with uid.
func objectPath(calPath, uid string) string {
	return path.Join(calPath, url.PathEscape(uid)+".ics")
}

// classify treats failures of the HTTP round trip, rejected credentials
// included, as fatal. Error responses from the server fail only the one event.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, errUnauthorized) {
		return &models.TransportError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
