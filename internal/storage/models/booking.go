package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a private DJ booking request (dj_bookings table).
type Booking struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Email            *string             `json:"email,omitempty"`
	Phone            *string             `json:"phone,omitempty"`
	EventDate        *string             `json:"event_date,omitempty"`
	EventDuration    *string             `json:"event_duration,omitempty"`
	EventType        *string             `json:"event_type,omitempty"`
	EventDescription *string             `json:"event_description,omitempty"`
	NumberOfGuests   *int                `json:"number_of_guests,omitempty"`
	NeedsEquipment   bool                `json:"needs_equipment"`
	EquipmentDetails *string             `json:"equipment_details,omitempty"`
	StartTime        *time.Time          `json:"start_time,omitempty"`
	EndTime          *time.Time          `json:"end_time,omitempty"`
	RatePerHour      decimal.NullDecimal `json:"rate_per_hour"`
	EquipmentCost    decimal.NullDecimal `json:"equipment_cost"`
	TotalAmount      decimal.NullDecimal `json:"total_amount"`
	CreatedAt        time.Time           `json:"created_at"`
}

// RSVP is a reservation for an rsvp-type event (rsvps table).
type RSVP struct {
	ID               string     `json:"id"`
	EventID          *string    `json:"event_id,omitempty"`
	Name             string     `json:"name"`
	Email            *string    `json:"email,omitempty"`
	Phone            *string    `json:"phone,omitempty"`
	NumberOfGuests   int        `json:"number_of_guests"`
	NeedsEquipment   bool       `json:"needs_equipment"`
	EquipmentDetails *string    `json:"equipment_details,omitempty"`
	EventDate        *string    `json:"event_date,omitempty"`
	EventDuration    *string    `json:"event_duration,omitempty"`
	EventType        *string    `json:"event_type,omitempty"`
	EventDescription *string    `json:"event_description,omitempty"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ContractSignature records a signed service contract for a booking.
type ContractSignature struct {
	ID          string     `json:"id"`
	BookingID   string     `json:"booking_id"`
	Signature   string     `json:"signature"`
	SignerEmail string     `json:"signer_email"`
	SignerIP    *string    `json:"signer_ip,omitempty"`
	Status      string     `json:"status"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
}

// Signature status constants
const (
	SignatureStatusPending = "pending"
	SignatureStatusSigned  = "signed"
)
