// Package domain contains core concepts of the chat client.
// This file defines Participant profiles and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "github.com/google/uuid"

// Profile identifies one chat participant. Profiles are owned by the
// auth/profile collaborator and are immutable as far as the engine is
// concerned.
type Profile struct {
	ID        uuid.UUID
	FullName  string
	Email     string
	AvatarURL *string
}
