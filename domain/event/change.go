// Package event defines the row-change notifications delivered by the
// change feed. Events are facts about the remote messages table, not
// commands; consumers decide how to apply them.
package event

import (
	"duochat/domain"

	"github.com/google/uuid"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// ChangeEvent is one row-level notification. For inserts and updates the
// full message record is present; for deletes only the identifier of the
// removed row is guaranteed.
type ChangeEvent struct {
	Kind      ChangeKind
	ChatID    uuid.UUID
	Message   *domain.Message
	MessageID uuid.UUID
}

// ID returns the message identifier the event refers to, whichever field
// carries it.
func (e ChangeEvent) ID() uuid.UUID {
	if e.Message != nil {
		return e.Message.ID
	}
	return e.MessageID
}
