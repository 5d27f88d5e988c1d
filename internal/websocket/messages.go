package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeFeedSyncCompleted MessageType = "feed.sync_completed"
	TypeFeedSyncError     MessageType = "feed.sync_error"
	TypeEventsChanged     MessageType = "events.changed"
	TypeBookingCreated    MessageType = "booking.created"
	TypeRSVPCreated       MessageType = "rsvp.created"
	TypeContractSigned    MessageType = "contract.signed"
	TypeNotification      MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// FeedSyncPayload is the payload for feed.sync_completed events.
type FeedSyncPayload struct {
	Status      string    `json:"status"`
	EventsFound int       `json:"events_found"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Removed     int       `json:"removed"`
	Skipped     int       `json:"skipped"`
	SyncedAt    time.Time `json:"synced_at"`
}

// FeedSyncErrorPayload is the payload for feed.sync_error events.
type FeedSyncErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// EventsChangedPayload tells clients to refetch the event list.
type EventsChangedPayload struct {
	EventID string `json:"event_id,omitempty"`
	Action  string `json:"action"` // created, updated, deleted, visibility, imported
}

// BookingPayload is the payload for booking.created and contract.signed events.
type BookingPayload struct {
	BookingID string `json:"booking_id"`
	Name      string `json:"name,omitempty"`
}

// RSVPPayload is the payload for rsvp.created events.
type RSVPPayload struct {
	RSVPID  string `json:"rsvp_id"`
	EventID string `json:"event_id,omitempty"`
	Guests  int    `json:"guests"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
