package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/storage"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// FeedSource yields parsed feed records.
type FeedSource interface {
	Events(ctx context.Context) ([]models.EventRecord, error)
}

// ImportStore persists imported feed events.
type ImportStore interface {
	ReplaceImported(ctx context.Context, feed []models.EventRow) (storage.ImportCounts, error)
}

// SyncNotifier receives sync outcomes.
type SyncNotifier interface {
	BroadcastFeedSyncCompleted(result models.FeedSyncResult)
	BroadcastFeedSyncError(err error)
}

// SyncService mirrors the external feed into the events table so imported
// events keep a stable identity keyed by their feed UID.
type SyncService struct {
	source   FeedSource
	store    ImportStore
	notifier SyncNotifier
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time

	// Serializes runs triggered by cron and the admin endpoint.
	mu       sync.Mutex
	onImport func()
}

// NewSyncService creates a new feed sync service. notifier may be nil.
func NewSyncService(source FeedSource, store ImportStore, notifier SyncNotifier, logger logrus.FieldLogger, m *metrics.Metrics) *SyncService {
	return &SyncService{
		source:   source,
		store:    store,
		notifier: notifier,
		logger:   logger.WithField("component", "feed_sync"),
		metrics:  m,
		now:      time.Now,
	}
}

// OnImport registers a callback run after every successful sync, used to
// invalidate cached event lists.
func (s *SyncService) OnImport(fn func()) {
	s.onImport = fn
}

// Sync fetches the feed and upserts it into the store. A failed fetch leaves
// previously imported rows untouched.
func (s *SyncService) Sync(ctx context.Context) (*models.FeedSyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.FeedSyncResult{SyncedAt: s.now().UTC()}

	records, err := s.source.Events(ctx)
	if err != nil {
		result.Error = err
		s.metrics.FeedSync(err)
		s.logger.WithError(err).Warn("feed sync failed")
		if s.notifier != nil {
			s.notifier.BroadcastFeedSyncError(err)
		}
		return result, fmt.Errorf("fetching feed: %w", err)
	}
	result.EventsFound = len(records)

	rows := make([]models.EventRow, 0, len(records))
	for _, rec := range records {
		row, ok := toImportRow(rec)
		if !ok {
			result.Skipped++
			continue
		}
		rows = append(rows, row)
	}

	counts, err := s.store.ReplaceImported(ctx, rows)
	if err != nil {
		result.Error = err
		s.metrics.FeedSync(err)
		s.logger.WithError(err).Error("storing imported events")
		if s.notifier != nil {
			s.notifier.BroadcastFeedSyncError(err)
		}
		return result, fmt.Errorf("storing imported events: %w", err)
	}

	result.Created = counts.Created
	result.Updated = counts.Updated
	result.Removed = counts.Removed
	s.metrics.FeedSync(nil)

	s.logger.WithFields(logrus.Fields{
		"found":   result.EventsFound,
		"created": result.Created,
		"updated": result.Updated,
		"removed": result.Removed,
		"skipped": result.Skipped,
	}).Info("feed sync completed")

	if s.onImport != nil {
		s.onImport()
	}
	if s.notifier != nil {
		s.notifier.BroadcastFeedSyncCompleted(*result)
	}
	return result, nil
}

// toImportRow converts a feed record into a store row. Records without a UID
// have no stable identity and are not persisted.
func toImportRow(rec models.EventRecord) (models.EventRow, bool) {
	if rec.ExternalUID == "" {
		return models.EventRow{}, false
	}

	packages, err := models.EncodePackages(rec.Packages)
	if err != nil {
		return models.EventRow{}, false
	}

	uid := rec.ExternalUID
	return models.EventRow{
		Title:         rec.Title,
		Venue:         rec.Venue,
		Location:      rec.Location,
		StartTime:     rec.Start,
		EndTime:       rec.End,
		Type:          string(rec.Type),
		Packages:      packages,
		IsImported:    true,
		IsLive:        true,
		ICalUID:       &uid,
		RecurringType: models.RecurNone,
	}, true
}
