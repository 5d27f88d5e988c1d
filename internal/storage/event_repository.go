package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

// EventRepository provides data access for the events table.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const eventColumns = `id, title, venue, location, start_time, end_time, type, packages,
	is_imported, is_live, ical_uid, recurring_type, recurring_interval,
	recurring_days, recurring_end_date, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (models.EventRow, error) {
	var (
		row      models.EventRow
		packages []byte
		uid      sql.NullString
		days     sql.NullString
		until    sql.NullTime
	)
	if err := s.Scan(
		&row.ID, &row.Title, &row.Venue, &row.Location, &row.StartTime, &row.EndTime,
		&row.Type, &packages, &row.IsImported, &row.IsLive, &uid,
		&row.RecurringType, &row.RecurringInterval, &days, &until,
		&row.CreatedAt, &row.UpdatedAt,
	); err != nil {
		return row, err
	}

	row.Packages = packages
	row.ICalUID = stringPtr(uid)
	row.RecurringEndDate = timePtr(until)
	if days.Valid && strings.TrimSpace(days.String) != "" {
		// Unreadable weekday lists are treated as empty.
		_ = json.Unmarshal([]byte(days.String), &row.RecurringDays)
	}
	return row, nil
}

func (r *EventRepository) list(ctx context.Context, where string, args ...any) ([]models.EventRow, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+where+` ORDER BY start_time`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []models.EventRow
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// ListLive retrieves events flagged live, for public consumption.
func (r *EventRepository) ListLive(ctx context.Context) ([]models.EventRow, error) {
	return r.list(ctx, "WHERE is_live = 1")
}

// List retrieves every event, for the admin surface.
func (r *EventRepository) List(ctx context.Context) ([]models.EventRow, error) {
	return r.list(ctx, "")
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.EventRow, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return &ev, nil
}

func recurringDays(days []int) sql.NullString {
	if len(days) == 0 {
		return sql.NullString{}
	}
	raw, _ := json.Marshal(days)
	return sql.NullString{String: string(raw), Valid: true}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Create inserts a new manually created event.
func (r *EventRepository) Create(ctx context.Context, ev *models.EventRow) error {
	return r.insert(ctx, r.DB(), ev)
}

func (r *EventRepository) insert(ctx context.Context, q Queryable, ev *models.EventRow) error {
	ev.ID = GenerateID()
	ev.CreatedAt = r.Now()
	ev.UpdatedAt = ev.CreatedAt
	if ev.RecurringType == "" {
		ev.RecurringType = models.RecurNone
	}
	if ev.RecurringInterval < 1 {
		ev.RecurringInterval = 1
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO events (
			id, title, venue, location, start_time, end_time, type, packages,
			is_imported, is_live, ical_uid, recurring_type, recurring_interval,
			recurring_days, recurring_end_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID, ev.Title, ev.Venue, ev.Location, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.Type,
		nullBytes(ev.Packages), ev.IsImported, ev.IsLive, nullString(ev.ICalUID),
		ev.RecurringType, ev.RecurringInterval, recurringDays(ev.RecurringDays),
		nullTime(ev.RecurringEndDate), ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// editable loads an event and rejects imported rows.
func (r *EventRepository) editable(ctx context.Context, id string) (*models.EventRow, error) {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsImported {
		return nil, ErrImportedReadOnly
	}
	return existing, nil
}

// Update updates a manually created event.
func (r *EventRepository) Update(ctx context.Context, ev *models.EventRow) error {
	existing, err := r.editable(ctx, ev.ID)
	if err != nil {
		return err
	}

	ev.CreatedAt = existing.CreatedAt
	ev.UpdatedAt = r.Now()
	if ev.RecurringType == "" {
		ev.RecurringType = models.RecurNone
	}
	if ev.RecurringInterval < 1 {
		ev.RecurringInterval = 1
	}

	_, err = r.DB().ExecContext(ctx, `
		UPDATE events SET
			title = ?, venue = ?, location = ?, start_time = ?, end_time = ?, type = ?,
			packages = ?, is_live = ?, recurring_type = ?, recurring_interval = ?,
			recurring_days = ?, recurring_end_date = ?, updated_at = ?
		WHERE id = ? AND is_imported = 0
	`,
		ev.Title, ev.Venue, ev.Location, ev.StartTime.UTC(), ev.EndTime.UTC(), ev.Type,
		nullBytes(ev.Packages), ev.IsLive, ev.RecurringType, ev.RecurringInterval,
		recurringDays(ev.RecurringDays), nullTime(ev.RecurringEndDate), ev.UpdatedAt, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event: %w", err)
	}

	return nil
}

// SetLive toggles the visibility of a manually created event.
func (r *EventRepository) SetLive(ctx context.Context, id string, live bool) error {
	if _, err := r.editable(ctx, id); err != nil {
		return err
	}

	_, err := r.DB().ExecContext(ctx, `
		UPDATE events SET is_live = ?, updated_at = ? WHERE id = ? AND is_imported = 0
	`, live, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating event visibility: %w", err)
	}

	return nil
}

// Delete removes a manually created event.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.editable(ctx, id); err != nil {
		return err
	}

	if _, err := r.DB().ExecContext(ctx, "DELETE FROM events WHERE id = ? AND is_imported = 0", id); err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}

	return nil
}

// ImportCounts summarizes a ReplaceImported run.
type ImportCounts struct {
	Created int
	Updated int
	Removed int
}

// ReplaceImported mirrors the feed into the events table in one transaction:
// rows are upserted by ical_uid and imported rows whose UID is absent from
// the feed are deleted. Rows without a UID are ignored.
func (r *EventRepository) ReplaceImported(ctx context.Context, feed []models.EventRow) (ImportCounts, error) {
	var counts ImportCounts

	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := importedUIDs(ctx, tx)
		if err != nil {
			return err
		}

		seen := make(map[string]bool, len(feed))
		for i := range feed {
			ev := &feed[i]
			uid := ev.UID()
			if uid == "" || seen[uid] {
				continue
			}
			seen[uid] = true

			if id, ok := existing[uid]; ok {
				ev.ID = id
				if err := r.updateImported(ctx, tx, ev); err != nil {
					return err
				}
				counts.Updated++
				continue
			}

			ev.IsImported = true
			if err := r.insert(ctx, tx, ev); err != nil {
				return err
			}
			counts.Created++
		}

		stale := make([]string, 0, len(existing))
		for uid := range existing {
			if !seen[uid] {
				stale = append(stale, uid)
			}
		}
		sort.Strings(stale)

		for _, uid := range stale {
			if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", existing[uid]); err != nil {
				return fmt.Errorf("deleting stale import %s: %w", uid, err)
			}
			counts.Removed++
		}
		return nil
	})

	return counts, err
}

func importedUIDs(ctx context.Context, q Queryable) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, ical_uid FROM events WHERE is_imported = 1 AND ical_uid IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("querying imported events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, uid string
		if err := rows.Scan(&id, &uid); err != nil {
			return nil, fmt.Errorf("scanning imported event: %w", err)
		}
		out[uid] = id
	}
	return out, rows.Err()
}

func (r *EventRepository) updateImported(ctx context.Context, q Queryable, ev *models.EventRow) error {
	ev.UpdatedAt = r.Now()
	_, err := q.ExecContext(ctx, `
		UPDATE events SET
			title = ?, venue = ?, location = ?, start_time = ?, end_time = ?,
			type = ?, packages = ?, updated_at = ?
		WHERE id = ?
	`,
		ev.Title, ev.Venue, ev.Location, ev.StartTime.UTC(), ev.EndTime.UTC(),
		ev.Type, nullBytes(ev.Packages), ev.UpdatedAt, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("updating imported event: %w", err)
	}
	return nil
}
