package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"duochat/domain"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *MessageIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewMessageIndex(writer, slog.Default())
}

func message(chatID uuid.UUID, content string) domain.Message {
	return domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  uuid.New(),
		Content:   content,
		Kind:      domain.KindText,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSearchScopedToChat(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)
	ctx := context.Background()

	mine, theirs := uuid.New(), uuid.New()
	wanted := message(mine, "let's migrate the billing service to Postgres")
	req.NoError(index.Index(wanted))
	req.NoError(index.Index(message(mine, "lunch tomorrow?")))
	req.NoError(index.Index(message(theirs, "Postgres upgrade is done")))

	hits, err := index.Search(ctx, mine, "postgres", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal(wanted.ID, hits[0].MessageID)
	req.Equal(mine, hits[0].ChatID)
	req.Equal(wanted.Content, hits[0].Content)
}

func TestIndexIsIdempotentPerMessage(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)
	ctx := context.Background()

	chatID := uuid.New()
	msg := message(chatID, "duplicate feed delivery")
	req.NoError(index.Index(msg))
	req.NoError(index.Index(msg))

	hits, err := index.Search(ctx, chatID, "duplicate", 10)
	req.NoError(err)
	req.Len(hits, 1)
}

func TestRemoveDropsFromResults(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)
	ctx := context.Background()

	chatID := uuid.New()
	msg := message(chatID, "ephemeral note")
	req.NoError(index.Index(msg))
	req.NoError(index.Remove(msg.ID))

	hits, err := index.Search(ctx, chatID, "ephemeral", 10)
	req.NoError(err)
	req.Empty(hits)
}
