package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/dj-epidemik/backend/internal/api/middleware"
	"github.com/dj-epidemik/backend/internal/events"
	"github.com/dj-epidemik/backend/internal/eventtime"
	"github.com/dj-epidemik/backend/internal/storage"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// EventStore is the admin view of the events table.
type EventStore interface {
	GetByID(ctx context.Context, id string) (*models.EventRow, error)
	Create(ctx context.Context, ev *models.EventRow) error
	Update(ctx context.Context, ev *models.EventRow) error
	SetLive(ctx context.Context, id string, live bool) error
	Delete(ctx context.Context, id string) error
}

// AdminLister returns the unfiltered admin listing.
type AdminLister interface {
	AdminEvents(ctx context.Context) (*events.AdminView, error)
}

// FeedSyncer runs a feed import.
type FeedSyncer interface {
	Sync(ctx context.Context) (*models.FeedSyncResult, error)
}

// EventsChanged is called after every successful admin mutation.
type EventsChanged func(eventID, action string)

// PackageRequest is a ticket tier in an event form.
type PackageRequest struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description" validate:"max=500"`
}

// EventRequest is the admin event form.
type EventRequest struct {
	Title             string           `json:"title" validate:"required,max=200"`
	Venue             string           `json:"venue" validate:"max=200"`
	Location          string           `json:"location" validate:"required,max=300"`
	StartTime         string           `json:"start_time" validate:"required"`
	EndTime           string           `json:"end_time" validate:"required"`
	Type              string           `json:"type" validate:"required,oneof=packages rsvp"`
	Packages          []PackageRequest `json:"packages" validate:"omitempty,max=20,dive"`
	IsLive            bool             `json:"is_live"`
	RecurringType     string           `json:"recurring_type" validate:"omitempty,oneof=none daily weekly monthly yearly"`
	RecurringInterval int              `json:"recurring_interval" validate:"omitempty,min=1,max=52"`
	RecurringDays     []int            `json:"recurring_days" validate:"omitempty,dive,min=0,max=6"`
	RecurringEndDate  string           `json:"recurring_end_date" validate:"omitempty,datetime=2006-01-02"`
}

// EventFormResponse is a stored event with values for a same-day edit form.
type EventFormResponse struct {
	Event    models.EventRow  `json:"event"`
	Packages []models.Package `json:"packages"`
	Form     EventFormValues  `json:"form"`
}

// EventFormValues are the start and end as shown in datetime-local inputs.
type EventFormValues struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Overnight bool   `json:"overnight"`
}

// AdminListEvents returns every stored event plus feed events not yet imported.
func AdminListEvents(lister AdminLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := lister.AdminEvents(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load events")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, view)
	}
}

// GetEvent returns a stored event prepared for editing.
func GetEvent(store EventStore, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, err := store.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeStoreError(w, err, "Failed to get event")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, eventForm(row, loc))
	}
}

// CreateEvent creates a manual event.
func CreateEvent(store EventStore, v *Validator, loc *time.Location, changed EventsChanged) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EventRequest
		if !decode(w, r, v, &req) {
			return
		}

		row, details := req.toRow(loc)
		if len(details) > 0 {
			writeValidation(w, details)
			return
		}

		if err := store.Create(r.Context(), row); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create event")
			return
		}

		changed(row.ID, "created")
		middleware.WriteJSON(w, http.StatusCreated, eventForm(row, loc))
	}
}

// UpdateEvent replaces a manual event. Imported events are read-only.
func UpdateEvent(store EventStore, v *Validator, loc *time.Location, changed EventsChanged) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EventRequest
		if !decode(w, r, v, &req) {
			return
		}

		row, details := req.toRow(loc)
		if len(details) > 0 {
			writeValidation(w, details)
			return
		}
		row.ID = mux.Vars(r)["id"]

		if err := store.Update(r.Context(), row); err != nil {
			writeStoreError(w, err, "Failed to update event")
			return
		}

		changed(row.ID, "updated")
		middleware.WriteJSON(w, http.StatusOK, eventForm(row, loc))
	}
}

// VisibilityRequest toggles whether an event is public.
type VisibilityRequest struct {
	IsLive *bool `json:"is_live" validate:"required"`
}

// SetEventVisibility publishes or hides a manual event.
func SetEventVisibility(store EventStore, v *Validator, changed EventsChanged) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VisibilityRequest
		if !decode(w, r, v, &req) {
			return
		}

		id := mux.Vars(r)["id"]
		if err := store.SetLive(r.Context(), id, *req.IsLive); err != nil {
			writeStoreError(w, err, "Failed to update event visibility")
			return
		}

		changed(id, "visibility")
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "is_live": *req.IsLive})
	}
}

// DeleteEvent deletes a manual event.
func DeleteEvent(store EventStore, changed EventsChanged) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := store.Delete(r.Context(), id); err != nil {
			writeStoreError(w, err, "Failed to delete event")
			return
		}

		changed(id, "deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncFeed imports the external feed now and returns the outcome.
func SyncFeed(syncer FeedSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if syncer == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrUnavailable, "Feed import is not configured")
			return
		}

		result, err := syncer.Sync(r.Context())
		if err != nil {
			middleware.WriteErrorWithDetails(w, http.StatusBadGateway, middleware.ErrUnavailable, "Feed sync failed", result)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, result)
	}
}

func (req *EventRequest) toRow(loc *time.Location) (*models.EventRow, map[string]string) {
	start, end, details := normalizeWindow(req.StartTime, req.EndTime, loc)
	if len(details) > 0 {
		return nil, details
	}

	typ := models.EventType(req.Type)
	var packages []models.Package
	if typ == models.EventTypePackages {
		if len(req.Packages) == 0 {
			details["packages"] = "required"
		}
		for _, p := range req.Packages {
			if p.Price.IsNegative() {
				details["packages.price"] = "gte=0"
				continue
			}
			packages = append(packages, models.Package{Name: p.Name, Price: p.Price, Description: p.Description})
		}
	}

	row := &models.EventRow{
		Title:             req.Title,
		Venue:             req.Venue,
		Location:          req.Location,
		StartTime:         start,
		EndTime:           end,
		Type:              string(typ),
		IsLive:            req.IsLive,
		RecurringType:     req.RecurringType,
		RecurringInterval: req.RecurringInterval,
	}
	if row.Venue == "" {
		row.Venue = row.Title
	}
	if row.IsRecurring() {
		if row.RecurringType == models.RecurWeekly {
			row.RecurringDays = req.RecurringDays
		}
		if req.RecurringEndDate != "" {
			y, m, d := start.Date()
			until, err := time.ParseInLocation("2006-01-02", req.RecurringEndDate, loc)
			if err != nil || until.Before(time.Date(y, m, d, 0, 0, 0, 0, loc)) {
				details["recurring_end_date"] = "gtefield=start_time"
			} else {
				row.RecurringEndDate = &until
			}
		}
	}

	encoded, err := models.EncodePackages(packages)
	if err != nil {
		details["packages"] = "invalid"
	}
	row.Packages = encoded

	return row, details
}

// normalizeWindow parses a start/end form pair and reports each unparsable
// value under its own field name.
func normalizeWindow(startValue, endValue string, loc *time.Location) (time.Time, time.Time, map[string]string) {
	details := map[string]string{}
	start, end, err := eventtime.Normalize(startValue, endValue, loc)
	if err != nil {
		var werr *eventtime.WindowError
		if !errors.As(err, &werr) {
			details[eventtime.FieldStart] = "datetime"
			return start, end, details
		}
		for _, field := range werr.Fields {
			details[field] = "datetime"
		}
	}
	return start, end, details
}

func eventForm(row *models.EventRow, loc *time.Location) EventFormResponse {
	start, end := eventtime.FormValues(row.StartTime, row.EndTime, loc)
	packages := models.DecodePackages(row.Packages)
	if packages == nil {
		packages = []models.Package{}
	}
	return EventFormResponse{
		Event:    *row,
		Packages: packages,
		Form: EventFormValues{
			StartTime: start,
			EndTime:   end,
			Overnight: eventtime.IsOvernight(row.StartTime.In(loc), row.EndTime),
		},
	}
}

func writeStoreError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Not found")
	case errors.Is(err, storage.ErrImportedReadOnly):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Imported events are read-only")
	default:
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, message)
	}
}
