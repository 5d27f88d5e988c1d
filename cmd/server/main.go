// Package main is the entry point for the DJ Epidemik site backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/api"
	"github.com/dj-epidemik/backend/internal/calendar"
	"github.com/dj-epidemik/backend/internal/config"
	"github.com/dj-epidemik/backend/internal/events"
	"github.com/dj-epidemik/backend/internal/logger"
	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/storage"
	"github.com/dj-epidemik/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "./data/config.yaml", "Path to the YAML config file")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Listen); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	log.WithFields(logrus.Fields{
		"version":  version,
		"timezone": cfg.Timezone,
		"feed":     calendar.RedactURL(cfg.Feed.URL),
	}).Info("starting DJ Epidemik backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	m := metrics.New()

	// Initialize database
	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, log); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(log, m)
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub, log)

	// Initialize repositories
	eventRepo := storage.NewEventRepository(db)
	bookingRepo := storage.NewBookingRepository(db)
	rsvpRepo := storage.NewRSVPRepository(db)
	signatureRepo := storage.NewSignatureRepository(db)

	// Feed source; the secret URL stays inside the client.
	var feed events.Feed
	var source *calendar.Source
	if cfg.Feed.URL != "" {
		client := calendar.NewFeedClient(cfg.Feed.URL, cfg.FeedTimeout(), log, m)
		parser := calendar.NewParser(log,
			calendar.WithLocation(loc),
			calendar.WithHorizon(cfg.Horizon()),
			calendar.WithMetrics(m),
		)
		source = calendar.NewSource(client, parser, cfg.Feed.PublicLink, m)
		feed = source
	} else {
		log.Warn("no feed url configured, serving store events only")
	}

	aggregator := events.New(eventRepo, feed, broadcaster, events.Config{
		Location:       loc,
		SourceTimeout:  cfg.SourceTimeout(),
		Horizon:        cfg.Horizon(),
		SampleFallback: cfg.SampleFallback,
		PublicLink:     cfg.Feed.PublicLink,
	}, log, m)
	cache := events.NewCache(aggregator, cfg.EventsCacheTTL())

	services := api.Services{
		DB:             db,
		Hub:            hub,
		Broadcaster:    broadcaster,
		Events:         cache,
		Invalidate:     cache.Invalidate,
		Admin:          aggregator,
		EventStore:     eventRepo,
		Bookings:       bookingRepo,
		RSVPs:          rsvpRepo,
		Signatures:     signatureRepo,
		Metrics:        m,
		Logger:         log,
		Location:       loc,
		DefaultRate:    defaultRate(cfg, log),
		BasicAuth:      cfg.BasicAuth,
		StaticDir:      cfg.StaticDir,
		Version:        version,
		FeedConfigured: source != nil,
	}

	var scheduler *calendar.Scheduler
	if source != nil && cfg.Feed.ImportEnabled {
		syncService := calendar.NewSyncService(source, eventRepo, broadcaster, log, m)
		syncService.OnImport(cache.Invalidate)

		scheduler = calendar.NewScheduler(syncService, cfg.Feed.SyncIntervalMin, cfg.FeedTimeout()*2, log)
		if err := scheduler.AddJob("@every 5m", func() { cache.Warm(ctx) }); err != nil {
			log.WithError(err).Warn("scheduling cache warm-up")
		}
		if err := scheduler.Start(ctx); err != nil {
			log.WithError(err).Warn("failed to start feed scheduler")
		}
		defer scheduler.Stop()

		services.Syncer = syncService
		services.Scheduler = scheduler
	}

	if cfg.BasicAuth == nil {
		log.Warn("admin routes are not protected by basic auth")
	}

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.NewRouter(services),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Listen).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func defaultRate(cfg *config.Config, log logrus.FieldLogger) decimal.Decimal {
	rate, err := decimal.NewFromString(cfg.Booking.DefaultRatePerHour)
	if err != nil || rate.IsNegative() {
		log.WithField("value", cfg.Booking.DefaultRatePerHour).Warn("invalid default booking rate, using 0")
		return decimal.Zero
	}
	return rate
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	host := addr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	resp, err := http.Get("http://" + host + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
