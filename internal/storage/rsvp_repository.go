package storage

import (
	"context"
	"fmt"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

// RSVPRepository provides data access for event RSVPs.
type RSVPRepository struct {
	BaseRepository
}

// NewRSVPRepository creates a new RSVP repository.
func NewRSVPRepository(db *DB) *RSVPRepository {
	return &RSVPRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const rsvpColumns = `id, event_id, name, email, phone, number_of_guests, needs_equipment,
	equipment_details, event_date, event_duration, event_type, event_description,
	start_time, end_time, created_at`

// Create inserts a new RSVP.
func (r *RSVPRepository) Create(ctx context.Context, rsvp *models.RSVP) error {
	rsvp.ID = GenerateID()
	rsvp.CreatedAt = r.Now()
	if rsvp.NumberOfGuests < 1 {
		rsvp.NumberOfGuests = 1
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO rsvps (`+rsvpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rsvp.ID, rsvp.EventID, rsvp.Name, rsvp.Email, rsvp.Phone, rsvp.NumberOfGuests,
		rsvp.NeedsEquipment, rsvp.EquipmentDetails, rsvp.EventDate, rsvp.EventDuration,
		rsvp.EventType, rsvp.EventDescription, nullTime(rsvp.StartTime), nullTime(rsvp.EndTime),
		rsvp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting rsvp: %w", err)
	}

	return nil
}

// List retrieves RSVPs, newest first. A non-empty eventID restricts the
// result to that event.
func (r *RSVPRepository) List(ctx context.Context, eventID string) ([]models.RSVP, error) {
	query := `SELECT ` + rsvpColumns + ` FROM rsvps`
	var args []any
	if eventID != "" {
		query += ` WHERE event_id = ?`
		args = append(args, eventID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rsvps: %w", err)
	}
	defer rows.Close()

	var rsvps []models.RSVP
	for rows.Next() {
		var v models.RSVP
		if err := rows.Scan(
			&v.ID, &v.EventID, &v.Name, &v.Email, &v.Phone, &v.NumberOfGuests, &v.NeedsEquipment,
			&v.EquipmentDetails, &v.EventDate, &v.EventDuration, &v.EventType, &v.EventDescription,
			&v.StartTime, &v.EndTime, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning rsvp: %w", err)
		}
		rsvps = append(rsvps, v)
	}

	return rsvps, rows.Err()
}
