// Package services holds the business rules behind the Slack endpoint: the
// setup and invite slash commands, Events API lifecycle handling, and the
// task group that runs that work after Slack has been acknowledged.
//
// Service methods that answer a user return a ready-to-send message and never
// an error; the sentinels below are used internally and by callers that need
// to branch on the failure class.
package services

import "errors"

var (
	// ErrInvalidRoomURL is returned when setup text is not a room URL on the
	// allowed domain.
	ErrInvalidRoomURL = errors.New("invalid room url")

	// ErrRoomNotConfigured is returned when the caller has no linked room.
	ErrRoomNotConfigured = errors.New("room not configured")

	// ErrDuplicateEvent marks an Events API delivery that was already
	// accepted under the same event id.
	ErrDuplicateEvent = errors.New("duplicate event")
)
