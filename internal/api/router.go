// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/api/handlers"
	"github.com/dj-epidemik/backend/internal/api/middleware"
	"github.com/dj-epidemik/backend/internal/config"
	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/websocket"
)

// Services holds everything the router hands to its handlers. Optional
// fields may be left nil.
type Services struct {
	DB          handlers.Pinger
	Hub         *websocket.Hub
	Broadcaster *websocket.EventBroadcaster

	Events     handlers.EventLister
	Invalidate func()
	Admin      handlers.AdminLister
	EventStore handlers.EventStore
	Bookings   handlers.BookingStore
	RSVPs      handlers.RSVPStore
	Signatures handlers.SignatureStore
	Syncer     handlers.FeedSyncer
	Scheduler  handlers.SyncScheduler

	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger

	Location       *time.Location
	Now            func() time.Time
	DefaultRate    decimal.Decimal
	BasicAuth      *config.BasicAuthConfig
	StaticDir      string
	Version        string
	FeedConfigured bool
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Location == nil {
		s.Location = time.Local
	}

	var notifier handlers.BookingNotifier
	if s.Broadcaster != nil {
		notifier = s.Broadcaster
	}
	changed := func(eventID, action string) {
		if s.Invalidate != nil {
			s.Invalidate()
		}
		if s.Broadcaster != nil {
			s.Broadcaster.BroadcastEventsChanged(eventID, action)
		}
	}
	v := handlers.NewValidator()

	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(s.Logger, s.Metrics))
	r.Use(middleware.ErrorRecovery(s.Logger))

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods(http.MethodGet)
	if s.Hub != nil {
		api.HandleFunc("/status", handlers.Status(s.Version, s.FeedConfigured, s.Hub, s.Scheduler)).Methods(http.MethodGet)
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, s.Logger)).Methods(http.MethodGet)
	}

	// Public endpoints
	api.HandleFunc("/events", handlers.ListEvents(s.Events, s.Location, s.Now)).Methods(http.MethodGet)
	api.HandleFunc("/events/{key:.+}/ics", handlers.EventCalendarFile(s.Events, s.Now)).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}/rsvps", handlers.CreateRSVP(s.RSVPs, s.EventStore, v, notifier)).Methods(http.MethodPost)
	api.HandleFunc("/bookings", handlers.CreateBooking(s.Bookings, v, s.Location, notifier)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/signature", handlers.SignContract(s.Signatures, s.Bookings, v, notifier)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/signature", handlers.GetSignature(s.Signatures)).Methods(http.MethodGet)

	// Admin endpoints
	admin := api.PathPrefix("/admin").Subrouter()
	if s.BasicAuth != nil {
		admin.Use(middleware.BasicAuth(s.BasicAuth.Username, s.BasicAuth.Password))
	}

	admin.HandleFunc("/events", handlers.AdminListEvents(s.Admin)).Methods(http.MethodGet)
	admin.HandleFunc("/events", handlers.CreateEvent(s.EventStore, v, s.Location, changed)).Methods(http.MethodPost)
	admin.HandleFunc("/events/{id}", handlers.GetEvent(s.EventStore, s.Location)).Methods(http.MethodGet)
	admin.HandleFunc("/events/{id}", handlers.UpdateEvent(s.EventStore, v, s.Location, changed)).Methods(http.MethodPut)
	admin.HandleFunc("/events/{id}", handlers.DeleteEvent(s.EventStore, changed)).Methods(http.MethodDelete)
	admin.HandleFunc("/events/{id}/visibility", handlers.SetEventVisibility(s.EventStore, v, changed)).Methods(http.MethodPatch)
	admin.HandleFunc("/feed/sync", handlers.SyncFeed(s.Syncer)).Methods(http.MethodPost)

	admin.HandleFunc("/bookings", handlers.ListBookings(s.Bookings)).Methods(http.MethodGet)
	admin.HandleFunc("/bookings/{id}", handlers.GetBooking(s.Bookings)).Methods(http.MethodGet)
	admin.HandleFunc("/bookings/{id}/cost", handlers.UpdateBookingCost(s.Bookings, s.DefaultRate)).Methods(http.MethodPatch)
	admin.HandleFunc("/rsvps", handlers.ListRSVPs(s.RSVPs)).Methods(http.MethodGet)

	// Serve static frontend files
	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir)))
	}

	return r
}
