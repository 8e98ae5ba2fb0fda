package models

import (
	"errors"
	"time"
)

// Status represents a user's presence status as carried on the wire
type Status string

const (
	StatusOnline   Status = "online"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusOffline  Status = "offline"
)

// IsValid checks if the status is one of the known wire values
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusActive, StatusInactive, StatusOffline:
		return true
	default:
		return false
	}
}

// Connected reports whether the status means the user holds a live session
func (s Status) Connected() bool {
	return s.IsValid() && s != StatusOffline
}

// Metadata carries display attributes for a user. The tracker never
// interprets these fields; they pass through from the wire to the roster.
type Metadata struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

// PresenceEntry represents one known user's presence state
type PresenceEntry struct {
	UserID       string    `json:"userId"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
}

// Validate validates an entry received from the wire
func (e *PresenceEntry) Validate() error {
	if e.UserID == "" {
		return errors.New("userId is required")
	}
	if !e.Status.IsValid() {
		return errors.New("invalid status")
	}
	return nil
}

// CredentialPayload carries the opaque session credential on login/logout
// and activity events. The credential is never parsed by this subsystem.
type CredentialPayload struct {
	Token string `json:"token"`
}

// StatusBatch is the payload of a userStatusesBatch emit: the remote
// updates buffered during one flush window.
type StatusBatch struct {
	Statuses []PresenceEntry `json:"statuses"`
}
