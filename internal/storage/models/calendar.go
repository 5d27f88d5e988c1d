package models

import "time"

// FeedSyncResult contains the results of importing the external feed into the store.
type FeedSyncResult struct {
	EventsFound int       `json:"events_found"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Removed     int       `json:"removed"`
	Skipped     int       `json:"skipped"`
	Error       error     `json:"-"`
	SyncedAt    time.Time `json:"synced_at"`
}
