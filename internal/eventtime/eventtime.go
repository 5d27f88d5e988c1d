// Package eventtime normalizes event start/end pairs that cross midnight.
//
// Event forms only expose same-day time pickers, so an end time that reads
// earlier than the start time means the event runs into the next morning.
// Every code path that stores, parses or edits an event window goes through
// this package.
package eventtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTime is returned when a timestamp cannot be parsed.
var ErrInvalidTime = errors.New("invalid time")

// FormLayout is the layout used by datetime-local form inputs.
const FormLayout = "2006-01-02T15:04"

// WindowLayout is the 12-hour clock layout used for display windows.
const WindowLayout = "3:04 PM"

var formLayouts = []string{
	FormLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// AdjustEndForOvernight returns end pushed forward one calendar day when it
// falls before start. Equal instants describe a zero-length event and are
// returned unchanged.
func AdjustEndForOvernight(start, end time.Time) time.Time {
	if end.Before(start) {
		return end.AddDate(0, 0, 1)
	}
	return end
}

// UnadjustForEditing reverses AdjustEndForOvernight so a stored next-day end
// can be shown in a same-day time picker. It only acts when end lies on the
// calendar day after start and its clock time is earlier than start's.
func UnadjustForEditing(start, end time.Time) time.Time {
	loc := start.Location()
	localEnd := end.In(loc)

	sy, sm, sd := start.Date()
	nextY, nextM, nextD := time.Date(sy, sm, sd+1, 0, 0, 0, 0, loc).Date()
	ey, em, ed := localEnd.Date()
	if ey != nextY || em != nextM || ed != nextD {
		return end
	}

	if clockOf(localEnd) < clockOf(start) {
		return localEnd.AddDate(0, 0, -1)
	}
	return end
}

// IsOvernight reports whether a normalized window crosses midnight in start's location.
func IsOvernight(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.In(start.Location()).Date()
	return sy != ey || sm != em || sd != ed
}

// Field names reported by WindowError.
const (
	FieldStart = "start_time"
	FieldEnd   = "end_time"
)

// WindowError reports which values of a start/end pair failed to parse.
type WindowError struct {
	Fields []string
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%s: %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

// Normalize parses a pair of form values in loc and returns the start and
// the overnight-adjusted end. Parse failures are returned as a *WindowError
// naming every bad field.
func Normalize(startValue, endValue string, loc *time.Location) (time.Time, time.Time, error) {
	var werr *WindowError
	fail := func(field string, err error) {
		if werr == nil {
			werr = &WindowError{Err: err}
		}
		werr.Fields = append(werr.Fields, field)
	}

	start, err := ParseFormTime(startValue, loc)
	if err != nil {
		fail(FieldStart, err)
	}
	end, err := ParseFormTime(endValue, loc)
	if err != nil {
		fail(FieldEnd, err)
	}
	if werr != nil {
		return time.Time{}, time.Time{}, werr
	}
	return start, AdjustEndForOvernight(start, end), nil
}

// FormValues returns the start and end formatted for an edit form, with an
// overnight end moved back onto the start day.
func FormValues(start, end time.Time, loc *time.Location) (string, string) {
	if loc == nil {
		loc = time.Local
	}
	s := start.In(loc)
	e := UnadjustForEditing(s, end.In(loc))
	return s.Format(FormLayout), e.In(loc).Format(FormLayout)
}

// ParseFormTime parses a wall-clock form value in loc. RFC 3339 values with
// an explicit offset are accepted and converted to loc.
func ParseFormTime(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTime)
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range formLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, value)
}

// FormatWindow renders a display window such as "10:00 PM - 2:00 AM".
func FormatWindow(start, end time.Time) string {
	return start.Format(WindowLayout) + " - " + end.In(start.Location()).Format(WindowLayout)
}

// Hours returns the length of the overnight-normalized window in hours.
func Hours(start, end time.Time) float64 {
	return AdjustEndForOvernight(start, end).Sub(start).Hours()
}

func clockOf(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
