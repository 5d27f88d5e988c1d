package calendar

import (
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

const productID = "-//DJ Epidemik//Events//EN"

// RenderEvent encodes a single record as an iCalendar document suitable for
// an "add to calendar" download.
func RenderEvent(rec models.EventRecord, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	ev := cal.AddEvent(exportUID(rec))
	ev.SetDtStampTime(stamp.UTC())
	ev.SetStartAt(rec.Start.UTC())
	ev.SetEndAt(rec.End.UTC())
	ev.SetSummary(rec.Venue)
	if rec.Location != "" {
		ev.SetLocation(rec.Location)
	}
	if rec.SourceLink != "" {
		ev.SetURL(rec.SourceLink)
	}
	if rec.TimeWindow != "" {
		ev.SetDescription(rec.DateLabel + " " + rec.TimeWindow)
	}
	return cal.Serialize()
}

func exportUID(rec models.EventRecord) string {
	if rec.ExternalUID != "" {
		return rec.ExternalUID
	}
	return rec.Key() + "@dj-epidemik"
}

var unsafeFilename = regexp.MustCompile(`[^a-z0-9]+`)

// FileName returns a download name such as "club-nova-2024-03-08.ics".
func FileName(rec models.EventRecord) string {
	slug := strings.Trim(unsafeFilename.ReplaceAllString(strings.ToLower(rec.Venue), "-"), "-")
	if slug == "" {
		slug = "event"
	}
	return slug + "-" + rec.Date.String() + ".ics"
}
