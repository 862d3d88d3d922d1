package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chat is the single conversation entity between exactly two participants.
// The participant pair is unordered: (A,B) and (B,A) denote the same chat,
// and at most one chat exists per pair.
type Chat struct {
	ID            uuid.UUID
	UserA         uuid.UUID
	UserB         uuid.UUID
	CreatedAt     time.Time
	LastMessageAt *time.Time
}

// Between reports whether this chat links the two given participants,
// in either order.
func (c Chat) Between(a, b uuid.UUID) bool {
	return (c.UserA == a && c.UserB == b) || (c.UserA == b && c.UserB == a)
}

// PairKey returns a canonical ordering of the two participant ids, so that
// (A,B) and (B,A) map to the same key.
func PairKey(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}
