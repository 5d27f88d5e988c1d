package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/dj-epidemik/backend/internal/api/middleware"
	"github.com/dj-epidemik/backend/internal/booking"
	"github.com/dj-epidemik/backend/internal/eventtime"
	"github.com/dj-epidemik/backend/internal/storage"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// BookingStore persists booking requests.
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context) ([]models.Booking, error)
	UpdateCost(ctx context.Context, id string, rate, equipment, total decimal.Decimal) error
}

// RSVPStore persists RSVPs.
type RSVPStore interface {
	Create(ctx context.Context, rsvp *models.RSVP) error
	List(ctx context.Context, eventID string) ([]models.RSVP, error)
}

// SignatureStore persists contract signatures.
type SignatureStore interface {
	Sign(ctx context.Context, sig *models.ContractSignature) error
	GetByBookingID(ctx context.Context, bookingID string) (*models.ContractSignature, error)
}

// EventGetter loads a single stored event.
type EventGetter interface {
	GetByID(ctx context.Context, id string) (*models.EventRow, error)
}

// BookingNotifier announces new submissions to admin clients.
type BookingNotifier interface {
	BroadcastBookingCreated(b *models.Booking)
	BroadcastRSVPCreated(rsvp *models.RSVP)
	BroadcastContractSigned(bookingID string)
}

// BookingRequest is the public booking form.
type BookingRequest struct {
	Name             string `json:"name" validate:"required,min=2,max=100"`
	Email            string `json:"email" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone            string `json:"phone" validate:"required_without=Email,omitempty,phone"`
	EventDate        string `json:"event_date" validate:"omitempty,datetime=2006-01-02"`
	EventDuration    string `json:"event_duration" validate:"max=50"`
	EventType        string `json:"event_type" validate:"max=100"`
	EventDescription string `json:"event_description" validate:"max=2000"`
	NumberOfGuests   int    `json:"number_of_guests" validate:"required,min=1,max=1000"`
	NeedsEquipment   bool   `json:"needs_equipment"`
	EquipmentDetails string `json:"equipment_details" validate:"max=1000"`
	StartTime        string `json:"start_time" validate:"required_with=EndTime"`
	EndTime          string `json:"end_time" validate:"required_with=StartTime"`
}

// RSVPRequest is the public RSVP form.
type RSVPRequest struct {
	Name             string `json:"name" validate:"required,min=2,max=100"`
	Email            string `json:"email" validate:"required_without=Phone,omitempty,email,max=254"`
	Phone            string `json:"phone" validate:"required_without=Email,omitempty,phone"`
	NumberOfGuests   int    `json:"number_of_guests" validate:"required,min=1,max=1000"`
	NeedsEquipment   bool   `json:"needs_equipment"`
	EquipmentDetails string `json:"equipment_details" validate:"max=1000"`
}

// CostRequest annotates a booking with pricing.
type CostRequest struct {
	RatePerHour   *decimal.Decimal `json:"rate_per_hour"`
	EquipmentCost *decimal.Decimal `json:"equipment_cost"`
}

// CostResponse is a booking with its computed quote.
type CostResponse struct {
	Booking *models.Booking `json:"booking"`
	Quote   booking.Quote   `json:"quote"`
}

// SignRequest is the contract signature form.
type SignRequest struct {
	Signature   string `json:"signature" validate:"required,startswith=data:image/,max=2000000"`
	SignerEmail string `json:"signer_email" validate:"required,email,max=254"`
}

// CreateBooking stores a public booking request.
func CreateBooking(store BookingStore, v *Validator, loc *time.Location, notifier BookingNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookingRequest
		if !decode(w, r, v, &req) {
			return
		}

		b := &models.Booking{
			Name:             strings.TrimSpace(req.Name),
			Email:            optional(req.Email),
			Phone:            optional(req.Phone),
			EventDate:        optional(req.EventDate),
			EventDuration:    optional(req.EventDuration),
			EventType:        optional(req.EventType),
			EventDescription: optional(req.EventDescription),
			NumberOfGuests:   &req.NumberOfGuests,
			NeedsEquipment:   req.NeedsEquipment,
			EquipmentDetails: optional(req.EquipmentDetails),
		}
		if req.StartTime != "" {
			start, end, details := normalizeWindow(req.StartTime, req.EndTime, loc)
			if len(details) > 0 {
				writeValidation(w, details)
				return
			}
			b.StartTime, b.EndTime = &start, &end
		}

		if err := store.Create(r.Context(), b); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create booking")
			return
		}

		if notifier != nil {
			notifier.BroadcastBookingCreated(b)
		}
		middleware.WriteJSON(w, http.StatusCreated, b)
	}
}

// ListBookings returns all bookings, newest first.
func ListBookings(store BookingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookings, err := store.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load bookings")
			return
		}
		if bookings == nil {
			bookings = []models.Booking{}
		}
		middleware.WriteJSON(w, http.StatusOK, bookings)
	}
}

// GetBooking returns a single booking.
func GetBooking(store BookingStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := store.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeStoreError(w, err, "Failed to get booking")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, b)
	}
}

// UpdateBookingCost computes and stores the booking total. A missing rate
// falls back to defaultRate.
func UpdateBookingCost(store BookingStore, defaultRate decimal.Decimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CostRequest
		if err := decodeJSON(r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		id := mux.Vars(r)["id"]
		b, err := store.GetByID(r.Context(), id)
		if err != nil {
			writeStoreError(w, err, "Failed to get booking")
			return
		}
		if b.StartTime == nil || b.EndTime == nil {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Booking has no performance window")
			return
		}

		rate, equipment := defaultRate, decimal.Zero
		if req.RatePerHour != nil {
			rate = *req.RatePerHour
		}
		if req.EquipmentCost != nil {
			equipment = *req.EquipmentCost
		}

		quote, err := booking.CalculateTotal(*b.StartTime, *b.EndTime, rate, equipment)
		if err != nil {
			writeValidation(w, map[string]string{"rate_per_hour": "gte=0", "equipment_cost": "gte=0"})
			return
		}

		if err := store.UpdateCost(r.Context(), id, quote.RatePerHour, quote.EquipmentCost, quote.Total); err != nil {
			writeStoreError(w, err, "Failed to update booking")
			return
		}

		b.RatePerHour = decimal.NewNullDecimal(quote.RatePerHour)
		b.EquipmentCost = decimal.NewNullDecimal(quote.EquipmentCost)
		b.TotalAmount = decimal.NewNullDecimal(quote.Total)
		middleware.WriteJSON(w, http.StatusOK, CostResponse{Booking: b, Quote: quote})
	}
}

// CreateRSVP stores an RSVP for a live rsvp-type event. The id may be an
// occurrence key ("<id>@<start>") of a recurring event.
func CreateRSVP(rsvps RSVPStore, eventStore EventGetter, v *Validator, notifier BookingNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RSVPRequest
		if !decode(w, r, v, &req) {
			return
		}

		key := mux.Vars(r)["id"]
		eventID, occurrence, _ := strings.Cut(key, "@")

		ev, err := eventStore.GetByID(r.Context(), eventID)
		if err != nil {
			writeStoreError(w, err, "Failed to get event")
			return
		}
		if !ev.IsLive {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Not found")
			return
		}
		if models.EventType(ev.Type) != models.EventTypeRSVP {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "This event does not take RSVPs")
			return
		}

		rsvp := &models.RSVP{
			EventID:          &ev.ID,
			Name:             strings.TrimSpace(req.Name),
			Email:            optional(req.Email),
			Phone:            optional(req.Phone),
			NumberOfGuests:   req.NumberOfGuests,
			NeedsEquipment:   req.NeedsEquipment,
			EquipmentDetails: optional(req.EquipmentDetails),
			StartTime:        &ev.StartTime,
			EndTime:          &ev.EndTime,
		}
		if occurrence != "" {
			if at, err := time.Parse("20060102T150405Z", occurrence); err == nil {
				at = at.In(ev.StartTime.Location())
				end := at.Add(eventtime.AdjustEndForOvernight(ev.StartTime, ev.EndTime).Sub(ev.StartTime))
				rsvp.StartTime, rsvp.EndTime = &at, &end
			}
		}
		date := models.DateOf(*rsvp.StartTime).String()
		rsvp.EventDate = &date

		if err := rsvps.Create(r.Context(), rsvp); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create RSVP")
			return
		}

		if notifier != nil {
			notifier.BroadcastRSVPCreated(rsvp)
		}
		middleware.WriteJSON(w, http.StatusCreated, rsvp)
	}
}

// ListRSVPs returns RSVPs, optionally filtered by ?event_id=.
func ListRSVPs(store RSVPStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsvps, err := store.List(r.Context(), r.URL.Query().Get("event_id"))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to load RSVPs")
			return
		}
		if rsvps == nil {
			rsvps = []models.RSVP{}
		}
		middleware.WriteJSON(w, http.StatusOK, rsvps)
	}
}

// SignContract records the signed service contract for a booking.
func SignContract(sigs SignatureStore, bookings BookingStore, v *Validator, notifier BookingNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignRequest
		if !decode(w, r, v, &req) {
			return
		}

		bookingID := mux.Vars(r)["id"]
		if _, err := bookings.GetByID(r.Context(), bookingID); err != nil {
			writeStoreError(w, err, "Failed to get booking")
			return
		}

		sig := &models.ContractSignature{
			BookingID:   bookingID,
			Signature:   req.Signature,
			SignerEmail: req.SignerEmail,
			SignerIP:    optional(clientIP(r)),
		}
		if err := sigs.Sign(r.Context(), sig); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to store signature")
			return
		}

		if notifier != nil {
			notifier.BroadcastContractSigned(bookingID)
		}
		middleware.WriteJSON(w, http.StatusCreated, sig)
	}
}

// GetSignature returns the signature for a booking.
func GetSignature(sigs SignatureStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sig, err := sigs.GetByBookingID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Contract not signed")
				return
			}
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to get signature")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, sig)
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// clientIP prefers the first X-Forwarded-For hop set by the reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
