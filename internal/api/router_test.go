package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-epidemik/backend/internal/api/handlers"
	"github.com/dj-epidemik/backend/internal/api/middleware"
	"github.com/dj-epidemik/backend/internal/config"
	"github.com/dj-epidemik/backend/internal/events"
	"github.com/dj-epidemik/backend/internal/logger"
	"github.com/dj-epidemik/backend/internal/metrics"
	"github.com/dj-epidemik/backend/internal/storage"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fakeLister struct{ result events.Result }

func (l fakeLister) GetEvents(context.Context) events.Result { return l.result }

type fakeEventStore struct {
	rows      map[string]*models.EventRow
	updateErr error
	created   []*models.EventRow
}

func (s *fakeEventStore) GetByID(_ context.Context, id string) (*models.EventRow, error) {
	row, ok := s.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return row, nil
}

func (s *fakeEventStore) Create(_ context.Context, ev *models.EventRow) error {
	ev.ID = "new-event"
	s.created = append(s.created, ev)
	return nil
}

func (s *fakeEventStore) Update(context.Context, *models.EventRow) error { return s.updateErr }

func (s *fakeEventStore) SetLive(_ context.Context, id string, _ bool) error {
	if _, ok := s.rows[id]; !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *fakeEventStore) Delete(context.Context, string) error { return nil }

type fakeBookings struct {
	rows  map[string]*models.Booking
	total decimal.Decimal
}

func (s *fakeBookings) Create(_ context.Context, b *models.Booking) error {
	b.ID = "booking-1"
	s.rows[b.ID] = b
	return nil
}

func (s *fakeBookings) GetByID(_ context.Context, id string) (*models.Booking, error) {
	b, ok := s.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (s *fakeBookings) List(context.Context) ([]models.Booking, error) { return nil, nil }

func (s *fakeBookings) UpdateCost(_ context.Context, id string, _, _, total decimal.Decimal) error {
	if _, ok := s.rows[id]; !ok {
		return storage.ErrNotFound
	}
	s.total = total
	return nil
}

type fakeRSVPs struct{ created []*models.RSVP }

func (s *fakeRSVPs) Create(_ context.Context, r *models.RSVP) error {
	s.created = append(s.created, r)
	return nil
}

func (s *fakeRSVPs) List(context.Context, string) ([]models.RSVP, error) { return nil, nil }

type fakeSignatures struct{}

func (fakeSignatures) Sign(context.Context, *models.ContractSignature) error { return nil }

func (fakeSignatures) GetByBookingID(context.Context, string) (*models.ContractSignature, error) {
	return nil, storage.ErrNotFound
}

type testEnv struct {
	router      http.Handler
	events      *fakeEventStore
	bookings    *fakeBookings
	rsvps       *fakeRSVPs
	invalidated int
}

func venueTime(t *testing.T, loc *time.Location, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02T15:04", value, loc)
	require.NoError(t, err)
	return ts
}

func newTestEnv(t *testing.T, auth *config.BasicAuthConfig) *testEnv {
	t.Helper()

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	start := venueTime(t, loc, "2024-03-08T22:00")
	end := venueTime(t, loc, "2024-03-09T02:00")
	march := models.EventRecord{
		ID: "club-nova", Title: "Club Nova", Venue: "Club Nova", Location: "Los Angeles",
		Date: models.DateOf(start), DateLabel: models.DateOf(start).Display(),
		Start: start, End: end, Type: models.EventTypePackages, IsLive: true,
	}
	aprilStart := venueTime(t, loc, "2024-04-12T21:00")
	april := models.EventRecord{
		ID: "underground", Title: "The Underground", Venue: "The Underground", Location: "New York",
		Date: models.DateOf(aprilStart), Start: aprilStart, End: aprilStart.Add(4 * time.Hour),
		Type: models.EventTypeRSVP, IsLive: true,
	}

	env := &testEnv{
		events: &fakeEventStore{rows: map[string]*models.EventRow{
			"club-nova":   {ID: "club-nova", Type: "packages", IsLive: true, StartTime: start, EndTime: end},
			"underground": {ID: "underground", Type: "rsvp", IsLive: true, StartTime: aprilStart, EndTime: aprilStart.Add(4 * time.Hour)},
		}},
		bookings: &fakeBookings{rows: map[string]*models.Booking{
			"with-window": {ID: "with-window", Name: "Dana", StartTime: &start, EndTime: &end},
			"no-window":   {ID: "no-window", Name: "Lee"},
		}},
		rsvps: &fakeRSVPs{},
	}

	env.router = NewRouter(Services{
		DB:          fakePinger{},
		Events:      fakeLister{result: events.Result{Events: []models.EventRecord{march, april}}},
		Invalidate:  func() { env.invalidated++ },
		EventStore:  env.events,
		Bookings:    env.bookings,
		RSVPs:       env.rsvps,
		Signatures:  fakeSignatures{},
		Metrics:     metrics.NewWithRegistry(prometheus.NewRegistry()),
		Logger:      logger.Discard(),
		Location:    loc,
		Now:         func() time.Time { return venueTime(t, loc, "2024-03-01T12:00") },
		DefaultRate: decimal.NewFromInt(150),
		BasicAuth:   auth,
	})
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorResponse {
	t.Helper()
	var resp middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("collapsed shows current month only", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/events", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.EventsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Events, 2)
		require.Len(t, resp.Months, 2)
		assert.Equal(t, "MAR 2024", resp.Months[0].Key)
		assert.Equal(t, "APR 2024", resp.Months[1].Key)
		assert.Equal(t, "MAR 2024", resp.CurrentMonth)
		assert.Equal(t, []string{"MAR 2024"}, resp.VisibleMonths)
		assert.False(t, resp.Expanded)
	})

	t.Run("expanded shows every month", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/events?expanded=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.EventsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"MAR 2024", "APR 2024"}, resp.VisibleMonths)
		assert.True(t, resp.Expanded)
	})
}

func TestEventCalendarFile(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/events/club-nova/ics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "club-nova-2024-03-08.ics")
	assert.Contains(t, rec.Body.String(), "BEGIN:VEVENT")
	assert.Contains(t, rec.Body.String(), "DTSTART:20240309T060000Z")

	rec = env.do(http.MethodGet, "/api/events/missing/ics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, middleware.ErrNotFound, decodeError(t, rec).Error)
}

func TestAdminCreateEvent(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/admin/events", map[string]any{
			"location":   "Los Angeles",
			"start_time": "2024-03-08T22:00",
			"end_time":   "2024-03-09T02:00",
			"type":       "packages",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, middleware.ErrValidation, resp.Error)
		details, ok := resp.Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "required", details["title"])
		assert.Empty(t, env.events.created)
	})

	t.Run("packages event needs a package", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/admin/events", map[string]any{
			"title":      "Club Nova",
			"location":   "Los Angeles",
			"start_time": "2024-03-08T22:00",
			"end_time":   "2024-03-08T02:00",
			"type":       "packages",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		details, ok := decodeError(t, rec).Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "required", details["packages"])
	})

	t.Run("bad end time is reported on end_time", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/admin/events", map[string]any{
			"title":      "Club Nova",
			"location":   "Los Angeles",
			"start_time": "2024-03-08T22:00",
			"end_time":   "late",
			"type":       "rsvp",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		details, ok := decodeError(t, rec).Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "datetime", details["end_time"])
		assert.NotContains(t, details, "start_time")
		assert.Empty(t, env.events.created)
	})

	t.Run("overnight event is stored", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/admin/events", map[string]any{
			"title":      "Club Nova",
			"location":   "Los Angeles",
			"start_time": "2024-03-08T22:00",
			"end_time":   "2024-03-08T02:00",
			"type":       "packages",
			"packages":   []map[string]any{{"name": "General Admission", "price": "30"}},
		})

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp handlers.EventFormResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "new-event", resp.Event.ID)
		assert.True(t, resp.Form.Overnight)
		assert.Equal(t, "2024-03-08T22:00", resp.Form.StartTime)
		require.Len(t, resp.Packages, 1)
		assert.True(t, resp.Packages[0].Price.Equal(decimal.NewFromInt(30)))

		require.Len(t, env.events.created, 1)
		row := env.events.created[0]
		assert.Equal(t, 9, row.EndTime.Day())
		assert.Equal(t, 1, env.invalidated)
	})
}

func TestAdminUpdateImportedEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.events.updateErr = storage.ErrImportedReadOnly

	rec := env.do(http.MethodPut, "/api/admin/events/club-nova", map[string]any{
		"title":      "Club Nova",
		"location":   "Los Angeles",
		"start_time": "2024-03-08T22:00",
		"end_time":   "2024-03-09T02:00",
		"type":       "rsvp",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, middleware.ErrConflict, decodeError(t, rec).Error)
	assert.Zero(t, env.invalidated)
}

func TestAdminVisibility(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPatch, "/api/admin/events/club-nova/visibility", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPatch, "/api/admin/events/club-nova/visibility", map[string]any{"is_live": false})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.invalidated)

	rec = env.do(http.MethodPatch, "/api/admin/events/missing/visibility", map[string]any{"is_live": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSyncFeedUnconfigured(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/admin/feed/sync", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, middleware.ErrUnavailable, decodeError(t, rec).Error)
}

func TestAdminBasicAuth(t *testing.T) {
	env := newTestEnv(t, &config.BasicAuthConfig{Username: "admin", Password: "secret"})

	rec := env.do(http.MethodGet, "/api/admin/bookings", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/bookings", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	env.router.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, `[]`, ok.Body.String())

	// Public routes stay open.
	rec = env.do(http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBooking(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		field    string
	}{
		{
			name:     "missing contact",
			body:     map[string]any{"name": "Dana Cruz", "number_of_guests": 80},
			wantCode: http.StatusBadRequest,
			field:    "email",
		},
		{
			name:     "bad email",
			body:     map[string]any{"name": "Dana Cruz", "email": "not-an-email", "number_of_guests": 80},
			wantCode: http.StatusBadRequest,
			field:    "email",
		},
		{
			name:     "guests out of range",
			body:     map[string]any{"name": "Dana Cruz", "phone": "+1 (310) 555-0100", "number_of_guests": 5000},
			wantCode: http.StatusBadRequest,
			field:    "number_of_guests",
		},
		{
			name:     "end without start",
			body:     map[string]any{"name": "Dana Cruz", "phone": "310-555-0100", "number_of_guests": 80, "end_time": "2024-05-01T02:00"},
			wantCode: http.StatusBadRequest,
			field:    "start_time",
		},
		{
			name:     "unparsable end time",
			body:     map[string]any{"name": "Dana Cruz", "phone": "310-555-0100", "number_of_guests": 80, "start_time": "2024-05-01T22:00", "end_time": "2am"},
			wantCode: http.StatusBadRequest,
			field:    "end_time",
		},
		{
			name: "valid overnight booking",
			body: map[string]any{
				"name": "Dana Cruz", "email": "dana@example.com", "number_of_guests": 80,
				"start_time": "2024-05-01T22:00", "end_time": "2024-05-01T02:00",
			},
			wantCode: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.do(http.MethodPost, "/api/bookings", tt.body)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.field != "" {
				details, ok := decodeError(t, rec).Details.(map[string]any)
				require.True(t, ok)
				assert.Contains(t, details, tt.field)
				return
			}

			b := env.bookings.rows["booking-1"]
			require.NotNil(t, b)
			require.NotNil(t, b.EndTime)
			assert.Equal(t, 2, b.EndTime.Day())
		})
	}
}

func TestUpdateBookingCost(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPatch, "/api/admin/bookings/with-window/cost", map[string]any{"equipment_cost": "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.CostResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(6), resp.Quote.BilledHours)
	assert.True(t, resp.Quote.RatePerHour.Equal(decimal.NewFromInt(150)))
	assert.True(t, resp.Quote.Total.Equal(decimal.NewFromInt(950)), resp.Quote.Total.String())
	assert.True(t, env.bookings.total.Equal(decimal.NewFromInt(950)))

	rec = env.do(http.MethodPatch, "/api/admin/bookings/no-window/cost", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPatch, "/api/admin/bookings/with-window/cost", map[string]any{"rate_per_hour": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPatch, "/api/admin/bookings/missing/cost", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRSVP(t *testing.T) {
	body := map[string]any{"name": "Sam Ortiz", "email": "sam@example.com", "number_of_guests": 2}

	t.Run("packages event rejects rsvps", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/events/club-nova/rsvps", body)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, env.rsvps.created)
	})

	t.Run("unknown event", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/events/missing/rsvps", body)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rsvp event", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/events/underground/rsvps", body)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		require.Len(t, env.rsvps.created, 1)
		rsvp := env.rsvps.created[0]
		require.NotNil(t, rsvp.EventID)
		assert.Equal(t, "underground", *rsvp.EventID)
		require.NotNil(t, rsvp.EventDate)
		assert.Equal(t, "2024-04-12", *rsvp.EventDate)
	})

	t.Run("occurrence key", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/events/underground@20240420T040000Z/rsvps", body)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		rsvp := env.rsvps.created[0]
		assert.True(t, rsvp.StartTime.Equal(time.Date(2024, 4, 20, 4, 0, 0, 0, time.UTC)))
		assert.Equal(t, 4*time.Hour, rsvp.EndTime.Sub(*rsvp.StartTime))
	})
}

func TestSignature(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/bookings/with-window/signature", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Contract not signed", decodeError(t, rec).Message)

	rec = env.do(http.MethodPost, "/api/bookings/with-window/signature", map[string]any{
		"signature":    "not-an-image",
		"signer_email": "dana@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/bookings/missing/signature", map[string]any{
		"signature":    "data:image/png;base64,iVBORw0KGgo=",
		"signer_email": "dana@example.com",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/bookings/with-window/signature", map[string]any{
		"signature":    "data:image/png;base64,iVBORw0KGgo=",
		"signer_email": "dana@example.com",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(http.MethodGet, "/api/health", nil)

	rec := env.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `djsite_http_requests_total{method="GET",route="/api/health",status="200"} 1`))
}
