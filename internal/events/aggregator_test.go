package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-epidemik/backend/internal/calendar"
	"github.com/dj-epidemik/backend/internal/logger"
	"github.com/dj-epidemik/backend/internal/monthgroup"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

type fakeStore struct {
	mu       sync.Mutex
	calls    int
	liveFunc func(ctx context.Context) ([]models.EventRow, error)
	listFunc func(ctx context.Context) ([]models.EventRow, error)
}

func (f *fakeStore) ListLive(ctx context.Context) ([]models.EventRow, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.liveFunc == nil {
		return nil, nil
	}
	return f.liveFunc(ctx)
}

func (f *fakeStore) List(ctx context.Context) ([]models.EventRow, error) {
	if f.listFunc == nil {
		return nil, nil
	}
	return f.listFunc(ctx)
}

type fakeFeed struct {
	eventsFunc func(ctx context.Context) ([]models.EventRecord, error)
}

func (f *fakeFeed) Events(ctx context.Context) ([]models.EventRecord, error) {
	return f.eventsFunc(ctx)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) BroadcastNotification(level, title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, level+":"+message)
}

func venue(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func rows(r ...models.EventRow) func(context.Context) ([]models.EventRow, error) {
	return func(context.Context) ([]models.EventRow, error) { return r, nil }
}

func records(r ...models.EventRecord) func(context.Context) ([]models.EventRecord, error) {
	return func(context.Context) ([]models.EventRecord, error) { return r, nil }
}

func newAggregator(t *testing.T, store Store, feed Feed, notifier Notifier, samples bool) *Aggregator {
	t.Helper()
	loc := venue(t)
	agg := New(store, feed, notifier, Config{
		Location:       loc,
		SourceTimeout:  200 * time.Millisecond,
		Horizon:        60 * 24 * time.Hour,
		SampleFallback: samples,
		PublicLink:     "https://calendar.example.com/dj",
	}, logger.Discard(), nil)
	agg.SetClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, loc) })
	return agg
}

func electricFestival(loc *time.Location) models.EventRow {
	return models.EventRow{
		ID:        "row-ef",
		Title:     "Electric Festival",
		Venue:     "Electric Festival",
		Location:  "Miami, FL",
		StartTime: time.Date(2024, 3, 15, 21, 0, 0, 0, loc).UTC(),
		EndTime:   time.Date(2024, 3, 15, 1, 0, 0, 0, loc).UTC(),
		Type:      string(models.EventTypePackages),
		Packages:  []byte(`[{"name":"Early Bird","price":45,"description":"Limited"},{"name":"VIP"}]`),
		IsLive:    true,
	}
}

const clubNovaFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:nova-1\r\n" +
	"SUMMARY:Club Nova\r\n" +
	"LOCATION:Los Angeles\\, CA\r\n" +
	"DTSTART:20240308T220000\r\n" +
	"DTEND:20240308T020000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:old-1\r\n" +
	"SUMMARY:Last Year\r\n" +
	"DTSTART:20230308T220000\r\n" +
	"DTEND:20230308T230000\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestGetEvents_EndToEnd(t *testing.T) {
	loc := venue(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)
	parser := calendar.NewParser(logger.Discard(),
		calendar.WithLocation(loc),
		calendar.WithClock(func() time.Time { return now }),
	)
	feed := &fakeFeed{eventsFunc: func(context.Context) ([]models.EventRecord, error) {
		return parser.ParseFeed(clubNovaFeed, "https://calendar.example.com/dj")
	}}
	store := &fakeStore{liveFunc: rows(electricFestival(loc))}

	result := newAggregator(t, store, feed, nil, true).GetEvents(context.Background())

	require.Len(t, result.Events, 2)
	assert.False(t, result.Fallback)
	assert.Empty(t, result.Notices)

	nova, ef := result.Events[0], result.Events[1]
	assert.Equal(t, "Club Nova", nova.Venue)
	assert.True(t, nova.IsImported)
	assert.True(t, nova.End.Equal(time.Date(2024, 3, 9, 2, 0, 0, 0, loc)), nova.End.String())
	assert.Equal(t, "10:00 PM - 2:00 AM", nova.TimeWindow)

	assert.Equal(t, "Electric Festival", ef.Venue)
	assert.False(t, ef.IsImported)
	assert.True(t, ef.End.Equal(time.Date(2024, 3, 16, 1, 0, 0, 0, loc)), ef.End.String())
	require.Len(t, ef.Packages, 2)
	assert.Equal(t, "VIP", ef.Packages[1].Name)
	assert.True(t, ef.Packages[1].Price.IsZero())

	groups := monthgroup.GroupByMonth(result.Events)
	require.Len(t, groups, 1)
	assert.Len(t, groups["MAR 2024"], 2)
}

func TestGetEvents_FeedFailureKeepsStoreEvents(t *testing.T) {
	loc := venue(t)
	notifier := &fakeNotifier{}
	store := &fakeStore{liveFunc: rows(electricFestival(loc))}
	feed := &fakeFeed{eventsFunc: func(context.Context) ([]models.EventRecord, error) {
		return nil, calendar.ErrFeedUnavailable
	}}

	result := newAggregator(t, store, feed, notifier, true).GetEvents(context.Background())

	require.Len(t, result.Events, 1)
	assert.Equal(t, "row-ef", result.Events[0].ID)
	assert.False(t, result.Fallback)
	assert.Equal(t, []string{NoticeFeedUnavailable}, result.Notices)
	assert.Equal(t, []string{"warning:" + NoticeFeedUnavailable}, notifier.messages)
}

func TestGetEvents_StoreFailureKeepsFeedEvents(t *testing.T) {
	loc := venue(t)
	start := time.Date(2024, 3, 8, 22, 0, 0, 0, loc)
	store := &fakeStore{liveFunc: func(context.Context) ([]models.EventRow, error) {
		return nil, errors.New("database is locked")
	}}
	feed := &fakeFeed{eventsFunc: records(models.EventRecord{Venue: "Club Nova", Start: start, Date: models.DateOf(start), ExternalUID: "nova"})}

	result := newAggregator(t, store, feed, nil, true).GetEvents(context.Background())

	require.Len(t, result.Events, 1)
	assert.Equal(t, []string{NoticeStoreUnavailable}, result.Notices)
}

func TestGetEvents_SlowSourceDoesNotBlock(t *testing.T) {
	loc := venue(t)
	release := make(chan struct{})
	defer close(release)

	store := &fakeStore{liveFunc: rows(electricFestival(loc))}
	feed := &fakeFeed{eventsFunc: func(context.Context) ([]models.EventRecord, error) {
		<-release
		return nil, nil
	}}

	begin := time.Now()
	result := newAggregator(t, store, feed, nil, false).GetEvents(context.Background())

	assert.Less(t, time.Since(begin), 2*time.Second)
	require.Len(t, result.Events, 1)
	assert.Equal(t, []string{NoticeFeedUnavailable}, result.Notices)
}

func TestGetEvents_SampleFallback(t *testing.T) {
	store := &fakeStore{}
	feed := &fakeFeed{eventsFunc: func(context.Context) ([]models.EventRecord, error) {
		return nil, calendar.ErrFeedUnavailable
	}}

	result := newAggregator(t, store, feed, nil, true).GetEvents(context.Background())

	assert.True(t, result.Fallback)
	require.Len(t, result.Events, 3)
	for _, ev := range result.Events {
		assert.True(t, ev.Sample, ev.Venue)
	}
	assert.Equal(t, "Club Nova", result.Events[0].Venue)
	assert.Equal(t, "The Underground", result.Events[2].Venue)
	assert.Equal(t, models.EventTypeRSVP, result.Events[2].Type)
}

func TestGetEvents_NoFallbackWhenDisabled(t *testing.T) {
	result := newAggregator(t, &fakeStore{}, nil, nil, false).GetEvents(context.Background())

	assert.False(t, result.Fallback)
	assert.NotNil(t, result.Events)
	assert.Empty(t, result.Events)
}

func TestGetEvents_StoreCopyWinsOverFeed(t *testing.T) {
	loc := venue(t)
	uid := "nova-1"
	start := time.Date(2024, 3, 8, 22, 0, 0, 0, loc)
	imported := models.EventRow{
		ID: "row-nova", Title: "Club Nova", Venue: "Club Nova", StartTime: start, EndTime: start.Add(4 * time.Hour),
		Type: string(models.EventTypePackages), IsImported: true, IsLive: true, ICalUID: &uid,
	}
	store := &fakeStore{liveFunc: rows(imported)}
	feed := &fakeFeed{eventsFunc: records(models.EventRecord{Venue: "Club Nova", Start: start, Date: models.DateOf(start), ExternalUID: uid})}

	result := newAggregator(t, store, feed, nil, false).GetEvents(context.Background())

	require.Len(t, result.Events, 1)
	assert.Equal(t, "row-nova", result.Events[0].ID)
	assert.Equal(t, "https://calendar.example.com/dj", result.Events[0].SourceLink)
}

func TestGetEvents_ExpandsRecurringRows(t *testing.T) {
	loc := venue(t)
	until := time.Date(2024, 3, 22, 0, 0, 0, 0, loc)
	weekly := models.EventRow{
		ID:                "row-weekly",
		Title:             "Friday Residency",
		Venue:             "Friday Residency",
		StartTime:         time.Date(2024, 3, 1, 22, 0, 0, 0, loc),
		EndTime:           time.Date(2024, 3, 1, 2, 0, 0, 0, loc),
		Type:              string(models.EventTypeRSVP),
		Packages:          []byte(`[{"name":"ignored"}]`),
		IsLive:            true,
		RecurringType:     models.RecurWeekly,
		RecurringInterval: 1,
		RecurringDays:     []int{5},
		RecurringEndDate:  &until,
	}

	result := newAggregator(t, &fakeStore{liveFunc: rows(weekly)}, nil, nil, false).GetEvents(context.Background())

	require.Len(t, result.Events, 4)
	for i, day := range []int{1, 8, 15, 22} {
		ev := result.Events[i]
		assert.Equal(t, day, ev.Date.Day)
		assert.Equal(t, "row-weekly", ev.OccurrenceOf)
		assert.Equal(t, 4*time.Hour, ev.End.Sub(ev.Start))
		assert.Nil(t, ev.Packages)
		assert.True(t, strings.HasPrefix(ev.Key(), "row-weekly@"))
	}

	found, ok := result.Find(result.Events[2].Key())
	require.True(t, ok)
	assert.Equal(t, 15, found.Date.Day)
}

func TestMerge_SortsAcrossYears(t *testing.T) {
	at := func(y int, m time.Month, d int, name string) models.EventRecord {
		start := time.Date(y, m, d, 22, 0, 0, 0, time.UTC)
		return models.EventRecord{Venue: name, Start: start, Date: models.DateOf(start)}
	}

	merged := Merge(
		[]models.EventRecord{at(2025, time.January, 4, "jan"), at(2024, time.April, 1, "apr")},
		[]models.EventRecord{at(2024, time.December, 31, "dec"), at(2024, time.March, 30, "mar")},
	)

	var got []string
	for _, ev := range merged {
		got = append(got, ev.Venue)
	}
	assert.Equal(t, []string{"mar", "apr", "dec", "jan"}, got)
}

func TestAdminEvents(t *testing.T) {
	loc := venue(t)
	uid := "nova-1"
	start := time.Date(2024, 3, 8, 22, 0, 0, 0, loc)
	draft := electricFestival(loc)
	draft.IsLive = false
	imported := models.EventRow{ID: "row-nova", IsImported: true, ICalUID: &uid, StartTime: start, EndTime: start}

	t.Run("lists drafts and unimported feed records", func(t *testing.T) {
		store := &fakeStore{listFunc: rows(draft, imported)}
		feed := &fakeFeed{eventsFunc: records(
			models.EventRecord{Venue: "Club Nova", ExternalUID: uid},
			models.EventRecord{Venue: "Warehouse", ExternalUID: "wh-1"},
		)}

		view, err := newAggregator(t, store, feed, nil, true).AdminEvents(context.Background())
		require.NoError(t, err)
		assert.Len(t, view.Rows, 2)
		require.Len(t, view.Feed, 1)
		assert.Equal(t, "Warehouse", view.Feed[0].Venue)
		assert.Empty(t, view.Notices)
	})

	t.Run("store failure is an error", func(t *testing.T) {
		store := &fakeStore{listFunc: func(context.Context) ([]models.EventRow, error) {
			return nil, errors.New("no such table: events")
		}}

		view, err := newAggregator(t, store, nil, nil, true).AdminEvents(context.Background())
		require.Error(t, err)
		assert.Nil(t, view)
	})

	t.Run("feed failure is a notice", func(t *testing.T) {
		store := &fakeStore{listFunc: rows(draft)}
		feed := &fakeFeed{eventsFunc: func(context.Context) ([]models.EventRecord, error) {
			return nil, calendar.ErrFeedUnavailable
		}}

		view, err := newAggregator(t, store, feed, nil, true).AdminEvents(context.Background())
		require.NoError(t, err)
		assert.Len(t, view.Rows, 1)
		assert.Empty(t, view.Feed)
		assert.Equal(t, []string{NoticeFeedUnavailable}, view.Notices)
	})
}

func TestRowRecord_UnknownTypeDefaultsToPackages(t *testing.T) {
	loc := venue(t)
	row := electricFestival(loc)
	row.Type = "concert"
	row.Packages = []byte(`not json`)
	row.Venue = ""

	rec := newAggregator(t, &fakeStore{}, nil, nil, false).RowRecord(&row)

	assert.Equal(t, models.EventTypePackages, rec.Type)
	assert.Nil(t, rec.Packages)
	assert.Equal(t, "Electric Festival", rec.Venue)
	assert.Equal(t, "MAR 15 2024", rec.DateLabel)
}
