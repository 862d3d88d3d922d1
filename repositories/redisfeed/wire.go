// Package redisfeed carries messages-table row changes over a Redis pub/sub
// channel. Every store client publishes after its own writes and subscribes
// for everyone else's; delivery is at-least-once from the consumer's point
// of view and carries no ordering guarantee relative to local writes.
package redisfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"duochat/domain"
	"duochat/domain/event"

	"github.com/google/uuid"
)

// Channel is the single pub/sub channel for the messages table. It is wider
// than one chat on purpose: subscribers filter by chat id.
const Channel = "duochat:messages:changes"

type wireRecord struct {
	ID        string  `json:"id"`
	ChatID    string  `json:"chat_id"`
	SenderID  string  `json:"sender_id"`
	Content   string  `json:"content"`
	Type      string  `json:"type"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt *string `json:"updated_at,omitempty"`
}

type wireEvent struct {
	Kind      string      `json:"kind"`
	ChatID    string      `json:"chat_id"`
	Record    *wireRecord `json:"record,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
}

func encodeEvent(e event.ChangeEvent) ([]byte, error) {
	w := wireEvent{Kind: string(e.Kind), ChatID: e.ChatID.String()}
	if e.Message != nil {
		rec := wireRecord{
			ID:        e.Message.ID.String(),
			ChatID:    e.Message.ChatID.String(),
			SenderID:  e.Message.SenderID.String(),
			Content:   e.Message.Content,
			Type:      string(e.Message.Kind),
			IsRead:    e.Message.IsRead,
			CreatedAt: e.Message.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if e.Message.UpdatedAt != nil {
			s := e.Message.UpdatedAt.UTC().Format(time.RFC3339Nano)
			rec.UpdatedAt = &s
		}
		w.Record = &rec
	}
	if e.MessageID != uuid.Nil {
		w.MessageID = e.MessageID.String()
	}
	return json.Marshal(w)
}

func decodeEvent(payload []byte) (event.ChangeEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return event.ChangeEvent{}, err
	}

	chatID, err := uuid.Parse(w.ChatID)
	if err != nil {
		return event.ChangeEvent{}, fmt.Errorf("bad chat id %q: %w", w.ChatID, err)
	}
	out := event.ChangeEvent{Kind: event.ChangeKind(w.Kind), ChatID: chatID}

	if w.Record != nil {
		msg, err := toMessage(*w.Record)
		if err != nil {
			return event.ChangeEvent{}, err
		}
		out.Message = &msg
		out.MessageID = msg.ID
	} else if w.MessageID != "" {
		id, err := uuid.Parse(w.MessageID)
		if err != nil {
			return event.ChangeEvent{}, fmt.Errorf("bad message id %q: %w", w.MessageID, err)
		}
		out.MessageID = id
	}
	return out, nil
}

func toMessage(rec wireRecord) (domain.Message, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return domain.Message{}, err
	}
	chatID, err := uuid.Parse(rec.ChatID)
	if err != nil {
		return domain.Message{}, err
	}
	senderID, err := uuid.Parse(rec.SenderID)
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   rec.Content,
		Kind:      domain.MessageKind(rec.Type),
		IsRead:    rec.IsRead,
		CreatedAt: createdAt.UTC(),
	}
	if rec.UpdatedAt != nil {
		updatedAt, err := time.Parse(time.RFC3339Nano, *rec.UpdatedAt)
		if err != nil {
			return domain.Message{}, err
		}
		u := updatedAt.UTC()
		msg.UpdatedAt = &u
	}
	return msg, nil
}
