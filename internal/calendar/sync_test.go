package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-epidemik/backend/internal/logger"
	"github.com/dj-epidemik/backend/internal/storage"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

type fakeSource struct {
	records []models.EventRecord
	err     error
}

func (f *fakeSource) Events(context.Context) ([]models.EventRecord, error) {
	return f.records, f.err
}

type fakeImportStore struct {
	got    []models.EventRow
	counts storage.ImportCounts
	err    error
	calls  int
}

func (f *fakeImportStore) ReplaceImported(_ context.Context, rows []models.EventRow) (storage.ImportCounts, error) {
	f.calls++
	f.got = rows
	return f.counts, f.err
}

type fakeSyncNotifier struct {
	completed []models.FeedSyncResult
	errs      []error
}

func (f *fakeSyncNotifier) BroadcastFeedSyncCompleted(r models.FeedSyncResult) {
	f.completed = append(f.completed, r)
}

func (f *fakeSyncNotifier) BroadcastFeedSyncError(err error) {
	f.errs = append(f.errs, err)
}

func TestSyncService_Sync(t *testing.T) {
	start := time.Date(2024, 3, 15, 22, 0, 0, 0, time.UTC)
	source := &fakeSource{records: []models.EventRecord{
		{Title: "Club Nova", Venue: "Club Nova", Start: start, End: start.Add(4 * time.Hour), Type: models.EventTypePackages, Packages: models.DefaultFeedPackages(), ExternalUID: "nova"},
		{Title: "No UID", Venue: "No UID", Start: start, End: start.Add(time.Hour), Type: models.EventTypePackages},
	}}
	store := &fakeImportStore{counts: storage.ImportCounts{Created: 1, Removed: 2}}
	notifier := &fakeSyncNotifier{}

	invalidated := false
	svc := NewSyncService(source, store, notifier, logger.Discard(), nil)
	svc.OnImport(func() { invalidated = true })

	result, err := svc.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.EventsFound)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 2, result.Removed)
	assert.True(t, invalidated)

	require.Len(t, store.got, 1)
	row := store.got[0]
	assert.Equal(t, "nova", row.UID())
	assert.True(t, row.IsImported)
	assert.True(t, row.IsLive)
	assert.Len(t, models.DecodePackages(row.Packages), 2)

	require.Len(t, notifier.completed, 1)
	assert.Empty(t, notifier.errs)
}

func TestSyncService_FetchFailureKeepsStore(t *testing.T) {
	source := &fakeSource{err: ErrFeedUnavailable}
	store := &fakeImportStore{}
	notifier := &fakeSyncNotifier{}

	svc := NewSyncService(source, store, notifier, logger.Discard(), nil)
	result, err := svc.Sync(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Equal(t, 0, store.calls)
	assert.Equal(t, ErrFeedUnavailable, result.Error)
	assert.Len(t, notifier.errs, 1)
}

func TestSyncService_StoreFailure(t *testing.T) {
	source := &fakeSource{records: []models.EventRecord{}}
	store := &fakeImportStore{err: errors.New("database is locked")}

	svc := NewSyncService(source, store, nil, logger.Discard(), nil)
	_, err := svc.Sync(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

type countingSyncer struct {
	calls chan struct{}
}

func (c *countingSyncer) Sync(context.Context) (*models.FeedSyncResult, error) {
	c.calls <- struct{}{}
	return &models.FeedSyncResult{}, nil
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	syncer := &countingSyncer{calls: make(chan struct{}, 4)}
	s := NewScheduler(syncer, 60, time.Second, logger.Discard())

	assert.Nil(t, s.NextRun())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	select {
	case <-syncer.calls:
	case <-time.After(time.Second):
		t.Fatal("initial sync did not run")
	}

	next := s.NextRun()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))
}
