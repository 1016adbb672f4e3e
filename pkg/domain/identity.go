// Package domain holds the relay's event vocabulary and shared value types.
package domain

import (
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// EntityID identifies an event or the message it concerns.
type EntityID string

// NewID returns a random UUIDv4 identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

func (id EntityID) String() string { return string(id) }

func (id EntityID) IsZero() bool { return id == "" }
