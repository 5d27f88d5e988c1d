package websocket

import (
	"github.com/sirupsen/logrus"

	"github.com/dj-epidemik/backend/internal/storage/models"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub    *Hub
	logger logrus.FieldLogger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, logger logrus.FieldLogger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, logger: logger}
}

// BroadcastFeedSyncCompleted sends a feed sync completed event.
func (b *EventBroadcaster) BroadcastFeedSyncCompleted(result models.FeedSyncResult) {
	payload := FeedSyncPayload{
		Status:      "success",
		EventsFound: result.EventsFound,
		Created:     result.Created,
		Updated:     result.Updated,
		Removed:     result.Removed,
		Skipped:     result.Skipped,
		SyncedAt:    result.SyncedAt,
	}
	if result.Error != nil {
		payload.Status = "error"
	}

	b.broadcast(NewMessage(TypeFeedSyncCompleted, payload))
}

// BroadcastFeedSyncError sends a feed sync error event.
func (b *EventBroadcaster) BroadcastFeedSyncError(err error) {
	b.broadcast(NewMessage(TypeFeedSyncError, FeedSyncErrorPayload{
		Error:   "sync_error",
		Message: err.Error(),
	}))
}

// BroadcastEventsChanged tells clients the event list is stale.
func (b *EventBroadcaster) BroadcastEventsChanged(eventID, action string) {
	b.broadcast(NewMessage(TypeEventsChanged, EventsChangedPayload{EventID: eventID, Action: action}))
}

// BroadcastBookingCreated announces a new booking request to admin clients.
func (b *EventBroadcaster) BroadcastBookingCreated(booking *models.Booking) {
	b.broadcast(NewMessage(TypeBookingCreated, BookingPayload{BookingID: booking.ID, Name: booking.Name}))
}

// BroadcastRSVPCreated announces a new RSVP.
func (b *EventBroadcaster) BroadcastRSVPCreated(rsvp *models.RSVP) {
	payload := RSVPPayload{RSVPID: rsvp.ID, Guests: rsvp.NumberOfGuests}
	if rsvp.EventID != nil {
		payload.EventID = *rsvp.EventID
	}
	b.broadcast(NewMessage(TypeRSVPCreated, payload))
}

// BroadcastContractSigned announces a signed contract.
func (b *EventBroadcaster) BroadcastContractSigned(bookingID string) {
	b.broadcast(NewMessage(TypeContractSigned, BookingPayload{BookingID: bookingID}))
}

// BroadcastNotification sends a non-blocking toast to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	b.broadcast(NewMessage(TypeNotification, NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}))
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.logger.WithError(err).WithField("type", msg.Type).Error("encoding websocket message")
		return
	}

	b.hub.Broadcast(data)
}
