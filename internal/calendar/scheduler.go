package calendar

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

// Syncer runs one feed import.
type Syncer interface {
	Sync(ctx context.Context) (*models.FeedSyncResult, error)
}

// Scheduler runs periodic feed imports and any extra warm-up jobs.
type Scheduler struct {
	cron     *cron.Cron
	syncer   Syncer
	logger   logrus.FieldLogger
	interval time.Duration
	timeout  time.Duration
	entry    cron.EntryID
}

// NewScheduler creates a new feed sync scheduler.
func NewScheduler(syncer Syncer, intervalMin int, timeout time.Duration, logger logrus.FieldLogger) *Scheduler {
	if intervalMin <= 0 {
		intervalMin = 15
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Scheduler{
		cron:     cron.New(),
		syncer:   syncer,
		logger:   logger.WithField("component", "feed_scheduler"),
		interval: time.Duration(intervalMin) * time.Minute,
		timeout:  timeout,
	}
}

// Start schedules the import job, runs it once immediately and starts cron.
func (s *Scheduler) Start(ctx context.Context) error {
	entryID, err := s.cron.AddFunc(intervalSpec(s.interval), func() {
		s.run(ctx)
	})
	if err != nil {
		return err
	}
	s.entry = entryID

	go s.run(ctx)

	s.cron.Start()
	s.logger.WithField("interval", s.interval.String()).Info("feed scheduler started")
	return nil
}

// AddJob schedules an additional function on the same cron, e.g. cache warm-up.
func (s *Scheduler) AddJob(spec string, fn func()) error {
	_, err := s.cron.AddFunc(spec, fn)
	return err
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	<-done.Done()
	s.logger.Info("feed scheduler stopped")
}

// TriggerSync runs an import in the background.
func (s *Scheduler) TriggerSync(ctx context.Context) {
	go s.run(ctx)
}

// NextRun returns the next scheduled import, or nil before Start.
func (s *Scheduler) NextRun() *time.Time {
	if s.entry == 0 {
		return nil
	}
	entry := s.cron.Entry(s.entry)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}

func (s *Scheduler) run(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	// Errors are logged and broadcast by the sync service.
	_, _ = s.syncer.Sync(ctx)
}

func intervalSpec(d time.Duration) string {
	return "@every " + d.String()
}
