// Package domain contains core concepts of the chat client.
// This file defines Message entities and related rules.
// The message kind is decided once at send time and never reinterpreted.
package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageKind is the closed set of content interpretations.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindLink  MessageKind = "link"
)

// Message represents one row of the remote messages table. The ID is stable
// across fetch and change-feed delivery and serves as the dedup key.
type Message struct {
	ID        uuid.UUID
	ChatID    uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Kind      MessageKind
	IsRead    bool
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// MessageDraft is the insert payload. Id and creation timestamp are assigned
// by the store, never by the client.
type MessageDraft struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Content  string      `validate:"required"`
	Kind     MessageKind `validate:"required,oneof=text image link"`
}

// ClassifyText decides the kind for user-typed text: an absolute http or
// https URL becomes a link, everything else stays plain text.
func ClassifyText(trimmed string) MessageKind {
	u, err := url.Parse(trimmed)
	if err != nil {
		return KindText
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host != "" {
			return KindLink
		}
	}
	return KindText
}
