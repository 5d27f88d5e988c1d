package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-epidemik/backend/internal/api/middleware"
	"github.com/dj-epidemik/backend/internal/calendar"
	"github.com/dj-epidemik/backend/internal/events"
	"github.com/dj-epidemik/backend/internal/monthgroup"
	"github.com/dj-epidemik/backend/internal/storage/models"
)

// EventLister returns the merged public event list.
type EventLister interface {
	GetEvents(ctx context.Context) events.Result
}

// MonthResponse is one month bucket.
type MonthResponse struct {
	Key    string               `json:"key"`
	Events []models.EventRecord `json:"events"`
}

// EventsResponse is the public event listing.
type EventsResponse struct {
	Events        []models.EventRecord `json:"events"`
	Months        []MonthResponse      `json:"months"`
	CurrentMonth  string               `json:"current_month"`
	VisibleMonths []string             `json:"visible_months"`
	Expanded      bool                 `json:"expanded"`
	Fallback      bool                 `json:"fallback"`
	Notices       []string             `json:"notices,omitempty"`
}

// ListEvents returns the merged event list grouped by month. Only the current
// month is marked visible unless ?expanded=1 is passed.
func ListEvents(lister EventLister, loc *time.Location, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := lister.GetEvents(r.Context())

		expanded, _ := strconv.ParseBool(r.URL.Query().Get("expanded"))
		current := monthgroup.CurrentMonthKey(now(), loc)
		disclosure := monthgroup.NewDisclosure(current)
		if expanded {
			disclosure.Expand()
		}

		buckets := monthgroup.Buckets(result.Events)
		months := make([]MonthResponse, 0, len(buckets))
		for _, b := range buckets {
			months = append(months, MonthResponse{Key: string(b.Key), Events: b.Events})
		}

		visible := disclosure.Visible(buckets)
		visibleNames := make([]string, 0, len(visible))
		for _, b := range visible {
			visibleNames = append(visibleNames, string(b.Key))
		}

		middleware.WriteJSON(w, http.StatusOK, EventsResponse{
			Events:        result.Events,
			Months:        months,
			CurrentMonth:  string(current),
			VisibleMonths: visibleNames,
			Expanded:      disclosure.State() == monthgroup.Expanded,
			Fallback:      result.Fallback,
			Notices:       result.Notices,
		})
	}
}

// EventCalendarFile serves a single event as an .ics download.
func EventCalendarFile(lister EventLister, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["key"]

		rec, ok := lister.GetEvents(r.Context()).Find(key)
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Event not found")
			return
		}

		body := calendar.RenderEvent(rec, now())
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+calendar.FileName(rec)+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}
