package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dj-epidemik/backend/internal/eventtime"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

type sample struct {
	uid      string
	venue    string
	location string
	days     int
	startH   int
	endH     int
	typ      models.EventType
	packages []models.Package
}

var samples = []sample{
	{
		uid:      "sample-club-nova",
		venue:    "Club Nova",
		location: "Los Angeles, CA",
		days:     7,
		startH:   22,
		endH:     2,
		typ:      models.EventTypePackages,
		packages: []models.Package{
			{Name: "General Admission", Price: decimal.NewFromInt(30), Description: "Entry to the main floor."},
			{Name: "VIP Access", Price: decimal.NewFromInt(75), Description: "VIP lounge access and priority entry."},
			{Name: "VIP Table Service", Price: decimal.NewFromInt(300), Description: "Reserved table for up to six guests."},
		},
	},
	{
		uid:      "sample-electric-festival",
		venue:    "Electric Festival",
		location: "Miami, FL",
		days:     14,
		startH:   21,
		endH:     1,
		typ:      models.EventTypePackages,
		packages: []models.Package{
			{Name: "Early Bird", Price: decimal.NewFromInt(45), Description: "Limited early pricing."},
			{Name: "Regular Admission", Price: decimal.NewFromInt(60), Description: "Full festival entry."},
			{Name: "VIP Experience", Price: decimal.NewFromInt(120), Description: "Backstage viewing area and open bar."},
		},
	},
	{
		uid:      "sample-the-underground",
		venue:    "The Underground",
		location: "New York, NY",
		days:     28,
		startH:   23,
		endH:     4,
		typ:      models.EventTypeRSVP,
	},
}

// SampleEvents returns the built-in demo events, dated relative to now in
// loc. Every record has Sample set.
func SampleEvents(now time.Time, loc *time.Location) []models.EventRecord {
	if loc == nil {
		loc = time.Local
	}
	today := now.In(loc)
	y, m, d := today.Date()

	out := make([]models.EventRecord, 0, len(samples))
	for _, s := range samples {
		start := time.Date(y, m, d+s.days, s.startH, 0, 0, 0, loc)
		end := eventtime.AdjustEndForOvernight(start, time.Date(y, m, d+s.days, s.endH, 0, 0, 0, loc))
		date := models.DateOf(start)

		out = append(out, models.EventRecord{
			Title:       s.venue,
			Date:        date,
			DateLabel:   date.Display(),
			Venue:       s.venue,
			Location:    s.location,
			Start:       start,
			End:         end,
			TimeWindow:  eventtime.FormatWindow(start, end),
			Type:        s.typ,
			Packages:    append([]models.Package(nil), s.packages...),
			IsLive:      true,
			ExternalUID: s.uid,
			Sample:      true,
		})
	}
	return out
}
