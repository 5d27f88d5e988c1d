// Package events merges manually created events from the store with the
// external calendar feed into one chronological list.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/calendar"
	"github.com/dj-epidemik/backend/internal/eventtime"
	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// Source names used in logs, metrics and notices.
const (
	SourceStore = "store"
	SourceFeed  = "feed"
)

// Notice messages surfaced to the presentation layer.
const (
	NoticeStoreUnavailable = "Events from the database could not be loaded."
	NoticeFeedUnavailable  = "The external calendar is currently unavailable."
)

// Store reads event rows.
type Store interface {
	ListLive(ctx context.Context) ([]models.EventRow, error)
	List(ctx context.Context) ([]models.EventRow, error)
}

// Feed yields parsed records from the external calendar.
type Feed interface {
	Events(ctx context.Context) ([]models.EventRecord, error)
}

// Notifier raises non-blocking notifications.
type Notifier interface {
	BroadcastNotification(level, title, message string)
}

// Config controls aggregation.
type Config struct {
	// Location is the venue zone used for day boundaries.
	Location *time.Location
	// SourceTimeout bounds each source read.
	SourceTimeout time.Duration
	// Horizon bounds recurring expansion.
	Horizon time.Duration
	// SampleFallback enables built-in sample events when both sources are empty.
	SampleFallback bool
	// PublicLink is attached to imported rows as their source link.
	PublicLink string
}

// Result is the merged event list.
type Result struct {
	Events []models.EventRecord `json:"events"`
	// Fallback is true when Events holds built-in samples rather than real data.
	Fallback bool `json:"fallback"`
	// Notices lists non-fatal source failures.
	Notices []string `json:"notices,omitempty"`
}

// AdminView is the unfiltered listing used by the admin surface.
type AdminView struct {
	Rows    []models.EventRow    `json:"rows"`
	Feed    []models.EventRecord `json:"feed"`
	Notices []string             `json:"notices,omitempty"`
}

// Aggregator combines the store and the feed.
type Aggregator struct {
	store    Store
	feed     Feed
	notifier Notifier
	cfg      Config
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates an aggregator. feed and notifier may be nil.
func New(store Store, feed Feed, notifier Notifier, cfg Config, logger logrus.FieldLogger, m *metrics.Metrics) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 10 * time.Second
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = calendar.DefaultHorizon
	}
	return &Aggregator{
		store:    store,
		feed:     feed,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.WithField("component", "aggregator"),
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Location returns the venue zone.
func (a *Aggregator) Location() *time.Location {
	return a.cfg.Location
}

// GetEvents reads live store events and the feed concurrently and returns
// their sorted union. A failing source contributes nothing and adds a notice.
// When both sources come back empty and samples are enabled, the result holds
// sample events and Fallback is set.
func (a *Aggregator) GetEvents(ctx context.Context) Result {
	began := time.Now()
	now := a.now()

	var (
		wg       sync.WaitGroup
		rows     []models.EventRow
		feed     []models.EventRecord
		storeErr error
		feedErr  error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		rows, storeErr = within(ctx, a.cfg.SourceTimeout, a.store.ListLive)
	}()

	if a.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed, feedErr = within(ctx, a.cfg.SourceTimeout, a.feed.Events)
		}()
	}
	wg.Wait()

	var result Result
	if storeErr != nil {
		rows = nil
		result.Notices = append(result.Notices, a.sourceFailed(SourceStore, storeErr))
	}
	if feedErr != nil {
		feed = nil
		result.Notices = append(result.Notices, a.sourceFailed(SourceFeed, feedErr))
	}

	window := calendar.Window{From: now, To: now.Add(a.cfg.Horizon)}
	result.Events = Merge(a.RowRecords(rows, window), feed)

	if len(result.Events) == 0 && a.cfg.SampleFallback {
		result.Events = SampleEvents(now, a.cfg.Location)
		result.Fallback = true
		a.logger.Info("no events from any source, serving samples")
	}
	if result.Events == nil {
		result.Events = []models.EventRecord{}
	}

	a.metrics.ObserveAggregation(time.Since(began), result.Fallback)
	a.logger.WithFields(logrus.Fields{
		"store":    len(rows),
		"feed":     len(feed),
		"count":    len(result.Events),
		"fallback": result.Fallback,
	}).Debug("events aggregated")

	return result
}

// AdminEvents returns every stored row and the feed records not yet imported.
// A store failure is returned as an error so the admin table is never shown
// with partial data. A feed failure only adds a notice.
func (a *Aggregator) AdminEvents(ctx context.Context) (*AdminView, error) {
	var (
		wg      sync.WaitGroup
		feed    []models.EventRecord
		feedErr error
	)
	if a.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed, feedErr = within(ctx, a.cfg.SourceTimeout, a.feed.Events)
		}()
	}

	rows, err := within(ctx, a.cfg.SourceTimeout, a.store.List)
	wg.Wait()
	if err != nil {
		a.metrics.SourceFailure(SourceStore)
		return nil, err
	}

	view := &AdminView{Rows: rows, Feed: []models.EventRecord{}}
	if view.Rows == nil {
		view.Rows = []models.EventRow{}
	}
	if feedErr != nil {
		view.Notices = append(view.Notices, a.sourceFailed(SourceFeed, feedErr))
		return view, nil
	}

	stored := storedUIDs(rows)
	for _, rec := range feed {
		if rec.ExternalUID != "" && stored[rec.ExternalUID] {
			continue
		}
		view.Feed = append(view.Feed, rec)
	}
	return view, nil
}

// RowRecords maps store rows to records, expanding recurring rows into
// occurrences inside w.
func (a *Aggregator) RowRecords(rows []models.EventRow, w calendar.Window) []models.EventRecord {
	out := make([]models.EventRecord, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		base := a.RowRecord(row)
		if !row.IsRecurring() {
			out = append(out, base)
			continue
		}

		occurrences, err := calendar.ExpandRow(row, a.cfg.Location, w)
		if err != nil {
			a.logger.WithError(err).WithField("event_id", row.ID).Warn("recurrence could not be expanded")
			out = append(out, base)
			continue
		}
		for _, occ := range occurrences {
			out = append(out, occurrence(base, occ))
		}
	}
	return out
}

// RowRecord maps a single store row into the unified record shape.
func (a *Aggregator) RowRecord(row *models.EventRow) models.EventRecord {
	loc := a.cfg.Location
	start := row.StartTime.In(loc)
	end := eventtime.AdjustEndForOvernight(start, row.EndTime.In(loc))

	typ := models.EventType(row.Type)
	if !typ.Valid() {
		typ = models.EventTypePackages
	}
	var packages []models.Package
	if typ == models.EventTypePackages {
		packages = models.DecodePackages(row.Packages)
	}

	venue := row.Venue
	if venue == "" {
		venue = row.Title
	}
	title := row.Title
	if title == "" {
		title = venue
	}

	var link string
	if row.IsImported {
		link = a.cfg.PublicLink
	}

	date := models.DateOf(start)
	return models.EventRecord{
		ID:          row.ID,
		Title:       title,
		Date:        date,
		DateLabel:   date.Display(),
		Venue:       venue,
		Location:    row.Location,
		Start:       start,
		End:         end,
		TimeWindow:  eventtime.FormatWindow(start, end),
		Type:        typ,
		Packages:    packages,
		SourceLink:  link,
		IsImported:  row.IsImported,
		IsLive:      row.IsLive,
		ExternalUID: row.UID(),
	}
}

func occurrence(base models.EventRecord, occ calendar.Occurrence) models.EventRecord {
	rec := base
	rec.Start = occ.Start
	rec.End = occ.End
	rec.Date = models.DateOf(occ.Start)
	rec.DateLabel = rec.Date.Display()
	rec.TimeWindow = eventtime.FormatWindow(occ.Start, occ.End)
	rec.OccurrenceOf = base.ID
	return rec
}

// Merge concatenates store and feed records, drops feed records whose UID is
// already present in the store records, and sorts the union by date.
func Merge(store, feed []models.EventRecord) []models.EventRecord {
	known := make(map[string]bool, len(store))
	for _, rec := range store {
		if rec.ExternalUID != "" {
			known[rec.ExternalUID] = true
		}
	}

	out := make([]models.EventRecord, 0, len(store)+len(feed))
	out = append(out, store...)
	for _, rec := range feed {
		if rec.ExternalUID != "" {
			if known[rec.ExternalUID] {
				continue
			}
			known[rec.ExternalUID] = true
		}
		out = append(out, rec)
	}

	calendar.SortRecords(out)
	return out
}

// Find returns the record with the given key.
func (r Result) Find(key string) (models.EventRecord, bool) {
	for _, rec := range r.Events {
		if rec.Key() == key {
			return rec, true
		}
	}
	return models.EventRecord{}, false
}

func (a *Aggregator) sourceFailed(source string, err error) string {
	a.metrics.SourceFailure(source)
	a.logger.WithError(err).WithField("source", source).Warn("event source failed")

	notice := NoticeStoreUnavailable
	if source == SourceFeed {
		notice = NoticeFeedUnavailable
	}
	if a.notifier != nil {
		a.notifier.BroadcastNotification("warning", "Events", notice)
	}
	return notice
}

func storedUIDs(rows []models.EventRow) map[string]bool {
	out := make(map[string]bool, len(rows))
	for i := range rows {
		if uid := rows[i].UID(); uid != "" {
			out[uid] = true
		}
	}
	return out
}

// errSourceTimeout is returned when a source does not answer within its timeout.
var errSourceTimeout = errors.New("source timed out")

// within runs fn with a timeout and stops waiting once it expires, even if fn
// ignores its context.
func within[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, errSourceTimeout
	}
}
