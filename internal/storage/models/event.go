// Package models contains the domain models for the application.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType determines which call-to-action the presentation layer renders.
type EventType string

const (
	EventTypePackages EventType = "packages"
	EventTypeRSVP     EventType = "rsvp"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventTypePackages || t == EventTypeRSVP
}

// Recurrence constants mirror the values accepted by the admin event form.
const (
	RecurNone    = "none"
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"
	RecurYearly  = "yearly"
)

// Date is a calendar day without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Compare returns -1, 0 or +1 comparing year, then month, then day.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Compare(other) < 0
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Display formats the date the way event cards show it, e.g. "MAR 15 2024".
func (d Date) Display() string {
	return fmt.Sprintf("%s %02d %d", strings.ToUpper(d.Month.String()[:3]), d.Day, d.Year)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse("2006-01-02", string(b))
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", string(b), err)
	}
	*d = DateOf(t)
	return nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Package is a ticket tier offered for an event.
type Package struct {
	Name        string          `json:"name" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}

// EventRecord is the unified event shape produced from both the feed and the store.
type EventRecord struct {
	// ID is the store row id. Empty for records that only exist in the feed.
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`

	Date       Date      `json:"date"`
	DateLabel  string    `json:"date_label"`
	Venue      string    `json:"venue"`
	Location   string    `json:"location"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	TimeWindow string    `json:"time_window"`

	Type     EventType `json:"type"`
	Packages []Package `json:"packages,omitempty"`

	SourceLink  string `json:"source_link,omitempty"`
	IsImported  bool   `json:"is_imported"`
	IsLive      bool   `json:"is_live"`
	ExternalUID string `json:"external_uid,omitempty"`

	// OccurrenceOf is set on records expanded from a recurring event.
	OccurrenceOf string `json:"occurrence_of,omitempty"`
	// Sample marks built-in demo records that are not real data.
	Sample bool `json:"sample,omitempty"`
}

// Key returns a stable identifier usable in URLs for any record.
func (e EventRecord) Key() string {
	switch {
	case e.OccurrenceOf != "":
		return e.OccurrenceOf + "@" + e.Start.UTC().Format("20060102T150405Z")
	case e.ID != "":
		return e.ID
	case e.ExternalUID != "":
		return "uid:" + e.ExternalUID
	default:
		return "at:" + e.Start.UTC().Format("20060102T150405Z")
	}
}

// EventRow is a row of the events table as stored.
type EventRow struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Venue             string     `json:"venue"`
	Location          string     `json:"location"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	Type              string     `json:"type"`
	Packages          []byte     `json:"-"`
	IsImported        bool       `json:"is_imported"`
	IsLive            bool       `json:"is_live"`
	ICalUID           *string    `json:"ical_uid,omitempty"`
	RecurringType     string     `json:"recurring_type"`
	RecurringInterval int        `json:"recurring_interval"`
	RecurringDays     []int      `json:"recurring_days,omitempty"`
	RecurringEndDate  *time.Time `json:"recurring_end_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsRecurring reports whether the row describes a repeating event.
func (r *EventRow) IsRecurring() bool {
	return r.RecurringType != "" && r.RecurringType != RecurNone
}

// UID returns the row's feed UID or an empty string.
func (r *EventRow) UID() string {
	if r.ICalUID == nil {
		return ""
	}
	return *r.ICalUID
}
