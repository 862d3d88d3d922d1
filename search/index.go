// Package search maintains a full-text index over message content so the
// terminal client can grep a conversation without a store round-trip.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"duochat/domain"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

type Hit struct {
	MessageID uuid.UUID
	ChatID    uuid.UUID
	Content   string
	CreatedAt time.Time
}

type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// Index upserts one message. Update is keyed by message id so replaying the
// same feed event twice leaves a single document.
func (m *MessageIndex) Index(msg domain.Message) error {
	doc := bluge.NewDocument(msg.ID.String())
	doc.AddField(bluge.NewTextField("content", msg.Content).StoreValue())
	doc.AddField(bluge.NewKeywordField("chat_id", msg.ChatID.String()).StoreValue())
	doc.AddField(bluge.NewKeywordField("sender_id", msg.SenderID.String()))
	doc.AddField(bluge.NewDateTimeField("created_at", msg.CreatedAt).StoreValue())

	if err := m.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("failed to index message %s: %w", msg.ID, err)
	}
	return nil
}

func (m *MessageIndex) Remove(messageID uuid.UUID) error {
	if err := m.writer.Delete(bluge.Identifier(messageID.String())); err != nil {
		return fmt.Errorf("failed to deindex message %s: %w", messageID, err)
	}
	return nil
}

// Search matches query terms against content, scoped to one chat.
func (m *MessageIndex) Search(ctx context.Context, chatID uuid.UUID, query string, limit int) ([]Hit, error) {
	reader, err := m.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open index reader: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			m.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField("content")).
		AddMust(bluge.NewTermQuery(chatID.String()).SetField("chat_id"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("search iteration failed: %w", err)
		}
		if match == nil {
			break
		}

		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID, _ = uuid.ParseBytes(value)
			case "chat_id":
				hit.ChatID, _ = uuid.ParseBytes(value)
			case "content":
				hit.Content = string(value)
			case "created_at":
				hit.CreatedAt, _ = bluge.DecodeDateTime(value)
			}
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load stored fields: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
