// Package domain defines the records persisted by the gateway: the per-user
// room mappings kept in the JSON mapping document and the Slack event
// receipts kept in SQLite through GORM.
package domain

import "time"

// RoomMapping links a Slack user to their video room.
//
// Fields:
//   - UserID: opaque Slack user id. It is the document key, so it is not
//     repeated inside the serialized value.
//   - RoomURL: canonical, validated room URL.
//   - UpdatedAt: time of the last successful setup for this user.
type RoomMapping struct {
	UserID    string    `json:"-"`
	RoomURL   string    `json:"doxyUrl"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MappingDocument is the whole persisted mapping store, keyed by user id.
type MappingDocument map[string]RoomMapping
