package domain

import (
	"time"

	"github.com/google/uuid"
)

// Exception is a time-boxed risk acceptance attached to an entity.
// A nil ExpiresAt never expires.
type Exception struct {
	ID        string     `json:"id"`
	EntityKey EntityKey  `json:"entity_key"`
	Reason    string     `json:"reason"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewException creates a new exception granted at now
func NewException(key EntityKey, reason string, expiresAt *time.Time, now time.Time) *Exception {
	return &Exception{
		ID:        uuid.NewString(),
		EntityKey: key,
		Reason:    reason,
		GrantedAt: now,
		ExpiresAt: expiresAt,
	}
}

// Expired reports whether the exception lapsed strictly before at.
func (e *Exception) Expired(at time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(at)
}

// Active reports whether the exception currently suppresses its finding.
func (e *Exception) Active(at time.Time) bool {
	return !e.Expired(at)
}

// ExpiresWithin reports whether an active exception lapses inside window.
func (e *Exception) ExpiresWithin(at time.Time, window time.Duration) bool {
	return e.ExpiresAt != nil && !e.Expired(at) && e.ExpiresAt.Before(at.Add(window))
}
