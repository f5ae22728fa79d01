package icloud

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"calmerge/internal/models"
)

const icalDateLayout = "20060102"

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}

// toICal converts an internal Event model to a calendar holding one VEVENT.
func toICal(event models.Event) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, event.UID)
	ve.Props.SetText(ical.PropSummary, event.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	setEventTime(ve.Props, ical.PropDateTimeStart, event.Start)
	setEventTime(ve.Props, ical.PropDateTimeEnd, event.End)

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Status != "" {
		ve.Props.SetText(ical.PropStatus, strings.ToUpper(event.Status))
	}
	if event.Transparency != "" {
		ve.Props.SetText(ical.PropTransparency, strings.ToUpper(event.Transparency))
	}
	if event.Organizer != nil && event.Organizer.Email != "" {
		p := ical.NewProp(ical.PropOrganizer)
		p.Value = "mailto:" + event.Organizer.Email
		ve.Props.Add(p)
	}
	for _, line := range event.Recurrence {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		p := ical.NewProp(strings.ToUpper(name))
		p.Value = value
		ve.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calmerge//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}

func setEventTime(props ical.Props, name string, t models.EventTime) {
	parsed, err := t.Time()
	if err != nil {
		return
	}
	if t.AllDay() {
		props.SetDate(name, parsed)
		return
	}
	props.SetDateTime(name, parsed.UTC())
}

// fromICal extracts the first non-override VEVENT of cal.
func fromICal(cal *ical.Calendar) (models.Event, bool) {
	if cal == nil {
		return models.Event{}, false
	}

	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent || comp.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}

		e := models.Event{
			UID:          text(comp, ical.PropUID),
			Summary:      text(comp, ical.PropSummary),
			Description:  text(comp, ical.PropDescription),
			Location:     text(comp, ical.PropLocation),
			Status:       strings.ToLower(text(comp, ical.PropStatus)),
			Transparency: strings.ToLower(text(comp, ical.PropTransparency)),
			Start:        eventTime(comp.Props.Get(ical.PropDateTimeStart)),
			End:          eventTime(comp.Props.Get(ical.PropDateTimeEnd)),
		}
		if p := comp.Props.Get(ical.PropOrganizer); p != nil {
			e.Organizer = &models.Person{
				Email:       strings.TrimPrefix(strings.ToLower(p.Value), "mailto:"),
				DisplayName: p.Params.Get(ical.ParamCommonName),
			}
		}
		for _, name := range []string{ical.PropRecurrenceRule, ical.PropRecurrenceDates, ical.PropExceptionDates} {
			for _, p := range comp.Props.Values(name) {
				e.Recurrence = append(e.Recurrence, name+":"+p.Value)
			}
		}
		return e, true
	}
	return models.Event{}, false
}

func text(comp *ical.Component, name string) string {
	s, err := comp.Props.Text(name)
	if err != nil {
		if p := comp.Props.Get(name); p != nil {
			return p.Value
		}
		return ""
	}
	return s
}

// eventTime converts a DTSTART/DTEND property. Floating times are read as UTC.
func eventTime(prop *ical.Prop) models.EventTime {
	if prop == nil {
		return models.EventTime{}
	}
	if prop.ValueType() == ical.ValueDate || len(prop.Value) == len(icalDateLayout) {
		t, err := time.Parse(icalDateLayout, prop.Value)
		if err != nil {
			return models.EventTime{}
		}
		return models.DateOf(t)
	}

	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return models.EventTime{}
	}
	et := models.DateTimeOf(t)
	et.TimeZone = prop.Params.Get(ical.ParamTimezoneID)
	return et
}
