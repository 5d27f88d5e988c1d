package calendar

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/dj-epidemik/backend/internal/eventtime"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// MaxOccurrences caps the number of instances expanded from a single rule.
const MaxOccurrences = 366

// Occurrence is one instance of a recurring event.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Window is the inclusive range occurrences are expanded into.
type Window struct {
	From time.Time
	To   time.Time
}

// ExpandRule expands an RRULE value (without the "RRULE:" prefix) anchored at
// start. Each occurrence keeps the overnight-normalized duration of the base
// event. Occurrences starting outside w are dropped.
func ExpandRule(rule string, start, end time.Time, w Window) ([]Occurrence, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parsing rrule %q: %w", rule, err)
	}
	r.DTStart(start)
	return expand(r, start, end, w), nil
}

// ExpandRow expands a recurring manual event row into occurrences.
func ExpandRow(row *models.EventRow, loc *time.Location, w Window) ([]Occurrence, error) {
	if loc == nil {
		loc = time.Local
	}
	start := row.StartTime.In(loc)
	end := row.EndTime.In(loc)

	opt, err := rowOption(row, start, loc)
	if err != nil {
		return nil, err
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("building rule for event %s: %w", row.ID, err)
	}
	return expand(r, start, end, w), nil
}

func rowOption(row *models.EventRow, start time.Time, loc *time.Location) (rrule.ROption, error) {
	opt := rrule.ROption{
		Dtstart:  start,
		Interval: row.RecurringInterval,
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}

	switch row.RecurringType {
	case models.RecurDaily:
		opt.Freq = rrule.DAILY
	case models.RecurWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range row.RecurringDays {
			wd, ok := weekdayFromSunday(d)
			if !ok {
				return opt, fmt.Errorf("invalid weekday %d for event %s", d, row.ID)
			}
			opt.Byweekday = append(opt.Byweekday, wd)
		}
	case models.RecurMonthly:
		opt.Freq = rrule.MONTHLY
	case models.RecurYearly:
		opt.Freq = rrule.YEARLY
	default:
		return opt, fmt.Errorf("unsupported recurrence %q for event %s", row.RecurringType, row.ID)
	}

	if row.RecurringEndDate != nil {
		y, m, d := row.RecurringEndDate.In(loc).Date()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, loc)
	}
	return opt, nil
}

// weekdayFromSunday maps 0=Sunday..6=Saturday onto rrule weekdays.
func weekdayFromSunday(d int) (rrule.Weekday, bool) {
	switch time.Weekday(d) {
	case time.Sunday:
		return rrule.SU, true
	case time.Monday:
		return rrule.MO, true
	case time.Tuesday:
		return rrule.TU, true
	case time.Wednesday:
		return rrule.WE, true
	case time.Thursday:
		return rrule.TH, true
	case time.Friday:
		return rrule.FR, true
	case time.Saturday:
		return rrule.SA, true
	}
	return rrule.Weekday{}, false
}

func expand(r *rrule.RRule, start, end time.Time, w Window) []Occurrence {
	dur := eventtime.AdjustEndForOvernight(start, end).Sub(start)

	from := w.From.In(start.Location())
	to := w.To.In(start.Location())
	times := r.Between(from, to, true)
	if len(times) > MaxOccurrences {
		times = times[:MaxOccurrences]
	}

	out := make([]Occurrence, 0, len(times))
	for _, t := range times {
		out = append(out, Occurrence{Start: t, End: t.Add(dur)})
	}
	return out
}
