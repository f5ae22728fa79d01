package google

import (
	"google.golang.org/api/calendar/v3"

	"calmerge/internal/models"
)

// toInternalEvent converts a Google Calendar event to the internal Event model.
func toInternalEvent(item *calendar.Event, calendarID string) models.Event {
	e := models.Event{
		ID:           item.Id,
		UID:          item.ICalUID,
		Calendar:     calendarID,
		Summary:      item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		Start:        toEventTime(item.Start),
		End:          toEventTime(item.End),
		Status:       item.Status,
		Transparency: item.Transparency,
		Visibility:   item.Visibility,
		Recurrence:   item.Recurrence,
	}
	if item.Organizer != nil {
		e.Organizer = &models.Person{Email: item.Organizer.Email, DisplayName: item.Organizer.DisplayName}
	}
	if item.Creator != nil {
		e.Creator = &models.Person{Email: item.Creator.Email, DisplayName: item.Creator.DisplayName}
	}
	return e
}

func toEventTime(t *calendar.EventDateTime) models.EventTime {
	if t == nil {
		return models.EventTime{}
	}
	return models.EventTime{Date: t.Date, DateTime: t.DateTime, TimeZone: t.TimeZone}
}

// toGoogleEvent builds the request body for importing e. The store ID of the
// event it was copied from is never sent.
func toGoogleEvent(e models.Event) *calendar.Event {
	ev := &calendar.Event{
		ICalUID:      e.UID,
		Summary:      e.Summary,
		Description:  e.Description,
		Location:     e.Location,
		Start:        fromEventTime(e.Start),
		End:          fromEventTime(e.End),
		Status:       e.Status,
		Transparency: e.Transparency,
		Visibility:   e.Visibility,
		Recurrence:   e.Recurrence,
	}
	if e.Organizer != nil {
		ev.Organizer = &calendar.EventOrganizer{Email: e.Organizer.Email, DisplayName: e.Organizer.DisplayName}
	}
	if e.Creator != nil {
		ev.Creator = &calendar.EventCreator{Email: e.Creator.Email, DisplayName: e.Creator.DisplayName}
	}
	return ev
}

func fromEventTime(t models.EventTime) *calendar.EventDateTime {
	if t.IsZero() {
		return nil
	}
	return &calendar.EventDateTime{Date: t.Date, DateTime: t.DateTime, TimeZone: t.TimeZone}
}
