package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

// BookingRepository provides data access for private DJ booking requests.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const bookingColumns = `id, name, email, phone, event_date, event_duration, event_type,
	event_description, number_of_guests, needs_equipment, equipment_details,
	start_time, end_time, rate_per_hour, equipment_cost, total_amount, created_at`

func scanBooking(s rowScanner) (models.Booking, error) {
	var b models.Booking
	err := s.Scan(
		&b.ID, &b.Name, &b.Email, &b.Phone, &b.EventDate, &b.EventDuration, &b.EventType,
		&b.EventDescription, &b.NumberOfGuests, &b.NeedsEquipment, &b.EquipmentDetails,
		&b.StartTime, &b.EndTime, &b.RatePerHour, &b.EquipmentCost, &b.TotalAmount, &b.CreatedAt,
	)
	return b, err
}

// Create inserts a new booking request.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	b.ID = GenerateID()
	b.CreatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO dj_bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.Name, b.Email, b.Phone, b.EventDate, b.EventDuration, b.EventType,
		b.EventDescription, b.NumberOfGuests, b.NeedsEquipment, b.EquipmentDetails,
		nullTime(b.StartTime), nullTime(b.EndTime), b.RatePerHour, b.EquipmentCost, b.TotalAmount, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(r.DB().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM dj_bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return &b, nil
}

// List retrieves all bookings, newest first.
func (r *BookingRepository) List(ctx context.Context) ([]models.Booking, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT `+bookingColumns+` FROM dj_bookings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// UpdateCost stores the admin-entered rate, equipment surcharge and computed total.
func (r *BookingRepository) UpdateCost(ctx context.Context, id string, rate, equipment, total decimal.Decimal) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE dj_bookings SET rate_per_hour = ?, equipment_cost = ?, total_amount = ?
		WHERE id = ?
	`, rate.String(), equipment.String(), total.String(), id)
	if err != nil {
		return fmt.Errorf("updating booking cost: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}
