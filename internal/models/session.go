package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionExpired   SessionStatus = "expired"
	SessionFinalized SessionStatus = "finalized"
)

// Session is a time-bounded container scoping a user's documents and chunks.
// The relational store is authoritative for its existence and status.
type Session struct {
	ID        string         `json:"session_id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Status    SessionStatus  `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	ExpiresAt time.Time      `json:"expires_at" db:"expires_at"`
	Metadata  map[string]any `json:"metadata" db:"metadata"`
}

// CanTransition reports whether a status transition is allowed.
// Transitions are monotonic: active may move to expired or finalized,
// both of which are terminal.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	if s != SessionActive {
		return false
	}
	return to == SessionExpired || to == SessionFinalized
}

// Valid reports whether the status is a known value
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionExpired, SessionFinalized:
		return true
	}
	return false
}

// Validate checks the session's structural invariants
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("session user_id is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid session status %q", s.Status)
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return fmt.Errorf("session expires_at must be after created_at")
	}
	return nil
}

// IsActive reports whether the session accepts writes
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// MergeMetadata merges updates into the session metadata, preserving
// keys that are not present in the update.
func (s *Session) MergeMetadata(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		s.Metadata[k] = v
	}
}
