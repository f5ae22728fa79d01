package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calmerge/internal/logging"
	"calmerge/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewClientFromService(svc, logging.Discard())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code int, reason string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func TestListEventsFollowsPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/work/events", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, http.StatusOK, calendar.Events{
				Items: []*calendar.Event{{
					Id:        "e1",
					ICalUID:   "uid1@google.com",
					Summary:   "Standup",
					Start:     &calendar.EventDateTime{DateTime: "2024-03-01T10:00:00Z"},
					End:       &calendar.EventDateTime{DateTime: "2024-03-01T11:00:00Z"},
					Organizer: &calendar.EventOrganizer{Email: "boss@example.com"},
				}},
				NextPageToken: "page2",
			})
		case "page2":
			writeJSON(w, http.StatusOK, calendar.Events{
				Items: []*calendar.Event{
					{Id: "e2", Summary: "Holiday", Start: &calendar.EventDateTime{Date: "2024-03-02"}, End: &calendar.EventDateTime{Date: "2024-03-03"}},
					{Id: "e3", Status: "cancelled"},
				},
			})
		default:
			http.Error(w, "unexpected page", http.StatusBadRequest)
		}
	})

	c := newTestClient(t, mux)
	events, err := c.ListEvents(context.Background(), "work")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "uid1@google.com", events[0].UID)
	assert.Equal(t, "work", events[0].Calendar)
	assert.Equal(t, "2024-03-01T10:00:00Z", events[0].Start.DateTime)
	require.NotNil(t, events[0].Organizer)
	assert.Equal(t, "boss@example.com", events[0].Organizer.Email)

	assert.Equal(t, "Holiday", events[1].Summary)
	assert.True(t, events[1].Start.AllDay())
}

func TestListEventsErrorIsTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/work/events", func(w http.ResponseWriter, r *http.Request) {
		apiError(w, http.StatusNotFound, "notFound")
	})

	_, err := newTestClient(t, mux).ListEvents(context.Background(), "work")
	require.Error(t, err)
	assert.True(t, models.IsTransport(err))
}

func TestImportEvent(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calendars/merged/events/import", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, calendar.Event{
			Id:      "new1",
			ICalUID: "uid1@google.com",
			Summary: "Busy",
			Start:   &calendar.EventDateTime{DateTime: "2024-03-01T10:00:00Z"},
			End:     &calendar.EventDateTime{DateTime: "2024-03-01T11:00:00Z"},
		})
	})

	c := newTestClient(t, mux)
	stored, err := c.ImportEvent(context.Background(), "merged", models.Event{
		ID:      "source-id",
		UID:     "uid1@google.com",
		Summary: "Busy",
		Start:   models.EventTime{DateTime: "2024-03-01T10:00:00Z"},
		End:     models.EventTime{DateTime: "2024-03-01T11:00:00Z"},
	})
	require.NoError(t, err)

	assert.Equal(t, "new1", stored.ID)
	assert.Equal(t, "merged", stored.Calendar)
	assert.NotContains(t, body, "id")
	assert.NotContains(t, body, "organizer")
	assert.NotContains(t, body, "creator")
	assert.NotContains(t, body, "location")
	assert.Equal(t, "uid1@google.com", body["iCalUID"])
}

func TestImportEventGeneratesUID(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calendars/merged/events/import", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, calendar.Event{Id: "new1"})
	})

	_, err := newTestClient(t, mux).ImportEvent(context.Background(), "merged", models.Event{Summary: "x"})
	require.NoError(t, err)
	assert.Contains(t, body["iCalUID"], "@calmerge")
}

func TestImportEventErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		reason    string
		transport bool
	}{
		{name: "bad request", code: http.StatusBadRequest, reason: "invalid", transport: false},
		{name: "rate limited", code: http.StatusForbidden, reason: "rateLimitExceeded", transport: false},
		{name: "forbidden", code: http.StatusForbidden, reason: "forbidden", transport: true},
		{name: "unauthorized", code: http.StatusUnauthorized, reason: "authError", transport: true},
		{name: "server error", code: http.StatusInternalServerError, reason: "backendError", transport: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /calendars/merged/events/import", func(w http.ResponseWriter, r *http.Request) {
				apiError(w, tt.code, tt.reason)
			})

			_, err := newTestClient(t, mux).ImportEvent(context.Background(), "merged", models.Event{UID: "u", Summary: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transport, models.IsTransport(err))
		})
	}
}

func TestDeleteEvent(t *testing.T) {
	var deleted []string
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /calendars/merged/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		switch id {
		case "gone":
			apiError(w, http.StatusGone, "deleted")
		case "missing":
			apiError(w, http.StatusNotFound, "notFound")
		default:
			deleted = append(deleted, id)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	c := newTestClient(t, mux)
	require.NoError(t, c.DeleteEvent(context.Background(), "merged", "e1"))
	require.NoError(t, c.DeleteEvent(context.Background(), "merged", "gone"))

	err := c.DeleteEvent(context.Background(), "merged", "missing")
	require.Error(t, err)
	assert.False(t, models.IsTransport(err))
	assert.Equal(t, []string{"e1"}, deleted)
}

func TestListCalendars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/me/calendarList", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, calendar.CalendarList{
			Items: []*calendar.CalendarListEntry{
				{Id: "me@example.com", Summary: "Me", AccessRole: "owner", Primary: true},
				{Id: "team@group.calendar.google.com", Summary: "Team", AccessRole: "reader"},
			},
		})
	})

	cals, err := newTestClient(t, mux).ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.True(t, cals[0].Primary)
	assert.Equal(t, "Team", cals[1].Summary)
}

func TestClassifyNetworkError(t *testing.T) {
	err := classify("import", errors.New("connection refused"))
	assert.True(t, models.IsTransport(err))

	err = classify("import", &googleapi.Error{Code: http.StatusConflict})
	assert.False(t, models.IsTransport(err))
}

func TestConversionRoundTrip(t *testing.T) {
	item := &calendar.Event{
		Id:           "e1",
		ICalUID:      "uid",
		Summary:      "Standup",
		Description:  "daily",
		Location:     "Room 1",
		Start:        &calendar.EventDateTime{DateTime: "2024-03-01T10:00:00+01:00", TimeZone: "Europe/Berlin"},
		End:          &calendar.EventDateTime{DateTime: "2024-03-01T11:00:00+01:00", TimeZone: "Europe/Berlin"},
		Transparency: "transparent",
		Recurrence:   []string{"RRULE:FREQ=DAILY"},
		Creator:      &calendar.EventCreator{Email: "me@example.com"},
	}

	e := toInternalEvent(item, "work")
	back := toGoogleEvent(e)

	assert.Empty(t, back.Id)
	assert.Equal(t, item.ICalUID, back.ICalUID)
	assert.Equal(t, item.Start, back.Start)
	assert.Equal(t, item.Recurrence, back.Recurrence)
	assert.Equal(t, "me@example.com", back.Creator.Email)
	assert.Nil(t, back.Organizer)
	assert.Nil(t, fromEventTime(models.EventTime{}))
	assert.Equal(t, models.EventTime{}, toEventTime(nil))
}

func TestTokenFiles(t *testing.T) {
	dir := t.TempDir()
	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}

	require.NoError(t, SaveToken(TokenFile(dir, "work"), tok))
	require.NoError(t, SaveToken(TokenFile(dir, "personal"), tok))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600))

	loaded, err := tokenFromFile(TokenFile(dir, "work"))
	require.NoError(t, err)
	assert.Equal(t, "refresh", loaded.RefreshToken)

	info, err := os.Stat(TokenFile(dir, "work"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	accounts, err := GetTokenAccounts(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"work", "personal"}, accounts)
}

func TestGetOAuthConfigFromClientCredentials(t *testing.T) {
	cfg, err := GetOAuthConfigForAuthFlow("id", "secret")
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, Scopes, cfg.Scopes)
}
