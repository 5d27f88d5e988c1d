// Package calendar provides iCal feed parsing, fetching and import into the event store.
package calendar

import (
	"bufio"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/eventtime"
	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// ErrMalformedFeed is returned when a payload cannot be decoded as a calendar at all.
var ErrMalformedFeed = errors.New("malformed calendar feed")

// Placeholder used when a feed event has no summary or location.
const placeholderTBA = "TBA"

// DefaultHorizon bounds how far ahead recurring feed events are expanded.
const DefaultHorizon = 180 * 24 * time.Hour

// Parser converts iCal feeds into event records.
type Parser struct {
	logger   logrus.FieldLogger
	location *time.Location
	horizon  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLocation sets the venue time zone. Floating feed times are read as wall
// clock in this zone and every record is converted to it.
func WithLocation(loc *time.Location) ParserOption {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithClock overrides the clock used for the future-only filter.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithHorizon sets how far ahead RRULEs are expanded.
func WithHorizon(d time.Duration) ParserOption {
	return func(p *Parser) {
		if d > 0 {
			p.horizon = d
		}
	}
}

// WithMetrics records skipped components.
func WithMetrics(m *metrics.Metrics) ParserOption {
	return func(p *Parser) { p.metrics = m }
}

// NewParser creates a new iCal parser.
func NewParser(logger logrus.FieldLogger, opts ...ParserOption) *Parser {
	p := &Parser{
		logger:   logger.WithField("component", "ical_parser"),
		location: time.Local,
		horizon:  DefaultHorizon,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Location returns the venue time zone the parser normalizes into.
func (p *Parser) Location() *time.Location {
	return p.location
}

// feedEvent is a decoded VEVENT before it becomes one or more records.
type feedEvent struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	RRule       string
}

// ParseFeed decodes raw feed text into future event records sorted by date.
// Components that cannot be decoded are skipped with a warning. An empty
// payload yields an empty list. ErrMalformedFeed is returned only when
// nothing in the payload resembles a calendar.
func (p *Parser) ParseFeed(raw, sourceLink string) ([]models.EventRecord, error) {
	events, err := p.decode(raw)
	if err != nil {
		return nil, err
	}

	now := p.now()
	window := Window{From: now, To: now.Add(p.horizon)}

	records := make([]models.EventRecord, 0, len(events))
	for _, ev := range events {
		if ev.RRule == "" {
			if ev.Start.Before(now) {
				continue
			}
			records = append(records, p.record(ev, ev.Start, ev.End, ev.UID, sourceLink))
			continue
		}

		occurrences, err := ExpandRule(ev.RRule, ev.Start, ev.End, window)
		if err != nil {
			p.skip(ev.UID, err)
			continue
		}
		for _, occ := range occurrences {
			if occ.Start.Before(now) {
				continue
			}
			rec := p.record(ev, occ.Start, occ.End, OccurrenceUID(ev.UID, occ.Start), sourceLink)
			if ev.UID != "" {
				rec.OccurrenceOf = "uid:" + ev.UID
			}
			records = append(records, rec)
		}
	}

	SortRecords(records)

	p.logger.WithFields(logrus.Fields{
		"components": len(events),
		"count":      len(records),
	}).Debug("feed parsed")
	return records, nil
}

// OccurrenceUID identifies one instance of a recurring feed event.
func OccurrenceUID(uid string, start time.Time) string {
	if uid == "" {
		return ""
	}
	return uid + "/" + start.UTC().Format("20060102T150405Z")
}

// SortRecords orders records by calendar date, then start instant.
func SortRecords(records []models.EventRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := records[i].Date.Compare(records[j].Date); c != 0 {
			return c < 0
		}
		return records[i].Start.Before(records[j].Start)
	})
}

func (p *Parser) record(ev feedEvent, start, end time.Time, uid, sourceLink string) models.EventRecord {
	start = start.In(p.location)
	end = end.In(p.location)

	venue := ev.Summary
	if venue == "" {
		venue = placeholderTBA
	}
	location := ev.Location
	if location == "" {
		location = placeholderTBA
	}

	date := models.DateOf(start)
	return models.EventRecord{
		Title:       venue,
		Date:        date,
		DateLabel:   date.Display(),
		Venue:       venue,
		Location:    location,
		Start:       start,
		End:         end,
		TimeWindow:  eventtime.FormatWindow(start, end),
		Type:        models.EventTypePackages,
		Packages:    models.DefaultFeedPackages(),
		SourceLink:  sourceLink,
		IsImported:  true,
		IsLive:      true,
		ExternalUID: uid,
	}
}

// decode turns the payload into feed events. When the calendar as a whole
// fails to parse, each VEVENT block is decoded on its own so one corrupt
// component does not hide the rest.
func (p *Parser) decode(raw string) ([]feedEvent, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if !strings.Contains(strings.ToUpper(raw), "BEGIN:VCALENDAR") {
		return nil, fmt.Errorf("%w: no VCALENDAR component", ErrMalformedFeed)
	}

	cal, err := ical.ParseCalendar(strings.NewReader(raw))
	if err == nil {
		return p.fromVEvents(cal.Events()), nil
	}

	p.logger.WithError(err).Warn("calendar did not parse as a whole, decoding components individually")

	timezones, blocks := splitComponents(raw)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}

	var events []feedEvent
	for i, block := range blocks {
		single, perr := ical.ParseCalendar(strings.NewReader(wrapComponent(timezones, block)))
		if perr != nil {
			p.skip(fmt.Sprintf("#%d", i), perr)
			continue
		}
		events = append(events, p.fromVEvents(single.Events())...)
	}
	return events, nil
}

func (p *Parser) fromVEvents(vevents []*ical.VEvent) []feedEvent {
	out := make([]feedEvent, 0, len(vevents))
	for _, ve := range vevents {
		ev, err := p.fromVEvent(ve)
		if err != nil {
			p.skip(ev.UID, err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (p *Parser) fromVEvent(ve *ical.VEvent) (feedEvent, error) {
	var ev feedEvent

	if prop := ve.GetProperty(ical.ComponentPropertyUniqueId); prop != nil {
		ev.UID = strings.TrimSpace(prop.Value)
	}
	if prop := ve.GetProperty(ical.ComponentPropertySummary); prop != nil {
		ev.Summary = strings.TrimSpace(prop.Value)
	}
	if prop := ve.GetProperty(ical.ComponentPropertyLocation); prop != nil {
		ev.Location = strings.TrimSpace(prop.Value)
	}
	if prop := ve.GetProperty(ical.ComponentPropertyDescription); prop != nil {
		ev.Description = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyRrule); prop != nil {
		ev.RRule = strings.TrimSpace(prop.Value)
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || strings.TrimSpace(startProp.Value) == "" {
		return ev, errors.New("missing DTSTART")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		if start, err = ve.GetAllDayStartAt(); err != nil {
			return ev, fmt.Errorf("parsing DTSTART %q: %w", startProp.Value, err)
		}
	}
	start = p.anchor(startProp, start)

	end, err := p.endOf(ve, startProp, start)
	if err != nil {
		return ev, err
	}

	ev.Start = start
	ev.End = eventtime.AdjustEndForOvernight(start, end)
	return ev, nil
}

// endOf resolves the end of an event from DTEND, else DURATION, else the
// one-day default of a date-only DTSTART.
func (p *Parser) endOf(ve *ical.VEvent, startProp *ical.IANAProperty, start time.Time) (time.Time, error) {
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && strings.TrimSpace(endProp.Value) != "" {
		end, err := ve.GetEndAt()
		if err != nil {
			if end, err = ve.GetAllDayEndAt(); err != nil {
				return time.Time{}, fmt.Errorf("parsing DTEND %q: %w", endProp.Value, err)
			}
		}
		return p.anchor(endProp, end), nil
	}

	if durProp := ve.GetProperty(ical.ComponentPropertyDuration); durProp != nil && strings.TrimSpace(durProp.Value) != "" {
		days, d, err := parseDuration(durProp.Value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing DURATION %q: %w", durProp.Value, err)
		}
		return start.AddDate(0, 0, days).Add(d), nil
	}

	if isDateOnly(startProp) {
		return start.AddDate(0, 0, 1), nil
	}
	return time.Time{}, errors.New("missing DTEND")
}

func isDateOnly(prop *ical.IANAProperty) bool {
	if v, ok := prop.ICalParameters["VALUE"]; ok && len(v) > 0 && strings.EqualFold(v[0], "DATE") {
		return true
	}
	return !strings.Contains(strings.ToUpper(prop.Value), "T")
}

// parseDuration reads an RFC 5545 dur-value such as "PT4H", "P1D" or
// "P1DT2H30M". Weeks and days are returned as calendar days so they follow
// wall-clock time across DST changes. Negative durations are rejected.
func parseDuration(value string) (days int, d time.Duration, err error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, "+")
	if strings.HasPrefix(v, "-") {
		return 0, 0, errors.New("negative duration")
	}
	if !strings.HasPrefix(v, "P") || len(v) < 3 {
		return 0, 0, errors.New("expected P prefix")
	}
	v = v[1:]

	inTime := false
	seen := false
	num := -1
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			if num < 0 {
				num = 0
			}
			num = num*10 + int(r-'0')
			continue
		case r == 'T':
			if inTime || num >= 0 {
				return 0, 0, errors.New("misplaced T")
			}
			inTime = true
			continue
		}

		if num < 0 {
			return 0, 0, fmt.Errorf("unit %q without a value", r)
		}
		switch {
		case !inTime && r == 'W':
			days += 7 * num
		case !inTime && r == 'D':
			days += num
		case inTime && r == 'H':
			d += time.Duration(num) * time.Hour
		case inTime && r == 'M':
			d += time.Duration(num) * time.Minute
		case inTime && r == 'S':
			d += time.Duration(num) * time.Second
		default:
			return 0, 0, fmt.Errorf("unexpected unit %q", r)
		}
		num = -1
		seen = true
	}
	if num >= 0 || !seen {
		return 0, 0, errors.New("incomplete duration")
	}
	return days, d, nil
}

// anchor reinterprets floating times (no TZID, no trailing Z) as venue wall
// clock and converts everything else to the venue zone.
func (p *Parser) anchor(prop *ical.IANAProperty, t time.Time) time.Time {
	floating := !strings.HasSuffix(strings.ToUpper(strings.TrimSpace(prop.Value)), "Z")
	if tz, ok := prop.ICalParameters["TZID"]; ok && len(tz) > 0 {
		floating = false
	}
	if floating {
		y, m, d := t.Date()
		hh, mm, ss := t.Clock()
		return time.Date(y, m, d, hh, mm, ss, 0, p.location)
	}
	return t.In(p.location)
}

func (p *Parser) skip(uid string, err error) {
	p.metrics.ComponentSkipped()
	p.logger.WithFields(logrus.Fields{
		"uid":   uid,
		"error": err.Error(),
	}).Warn("skipping feed component")
}

// splitComponents scans raw feed text and returns VTIMEZONE blocks and VEVENT
// blocks, each as unfolded text lines.
func splitComponents(raw string) (timezones []string, events []string) {
	var (
		current strings.Builder
		kind    string
		depth   int
	)

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxFeedBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		upper := strings.ToUpper(line)

		if kind == "" {
			switch upper {
			case "BEGIN:VEVENT", "BEGIN:VTIMEZONE":
				kind = strings.TrimPrefix(upper, "BEGIN:")
				depth = 1
				current.Reset()
				current.WriteString(line + "\r\n")
			}
			continue
		}

		current.WriteString(line + "\r\n")
		switch {
		case strings.HasPrefix(upper, "BEGIN:"):
			depth++
		case strings.HasPrefix(upper, "END:"):
			depth--
		}
		if depth == 0 {
			if kind == "VTIMEZONE" {
				timezones = append(timezones, current.String())
			} else {
				events = append(events, current.String())
			}
			kind = ""
		}
	}
	return timezones, events
}

func wrapComponent(timezones []string, block string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//dj-epidemik//feed//EN\r\n")
	for _, tz := range timezones {
		b.WriteString(tz)
	}
	b.WriteString(block)
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}
