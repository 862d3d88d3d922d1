package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"duochat/domain"
	"duochat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	options := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLocalStore(db, slog.Default(), 16)
}

func TestCreateChatPairUniqueness(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()

	chat, err := store.CreateChat(ctx, alice, bob)
	req.NoError(err)

	_, err = store.CreateChat(ctx, bob, alice)
	req.ErrorIs(err, errors.ErrAlreadyExists)

	// Lookup resolves the pair in either order.
	found, err := store.LookupChat(ctx, bob, alice)
	req.NoError(err)
	req.NotNil(found)
	req.Equal(chat.ID, found.ID)

	missing, err := store.LookupChat(ctx, alice, uuid.New())
	req.NoError(err)
	req.Nil(missing)
}

func TestFetchPageWalksBackwards(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, uuid.New(), uuid.New())
	req.NoError(err)

	sender := chat.UserA
	inserted := make([]domain.Message, 0, 45)
	for i := 0; i < 45; i++ {
		msg, err := store.Insert(ctx, domain.MessageDraft{
			ChatID:   chat.ID,
			SenderID: sender,
			Content:  "hello",
			Kind:     domain.KindText,
		})
		req.NoError(err)
		inserted = append(inserted, msg)
	}

	first, hasMore, err := store.FetchPage(ctx, chat.ID, nil, 20)
	req.NoError(err)
	req.True(hasMore)
	req.Len(first, 20)
	req.Equal(inserted[25].ID, first[0].ID)
	req.Equal(inserted[44].ID, first[19].ID)

	second, hasMore, err := store.FetchPage(ctx, chat.ID, &first[0].CreatedAt, 20)
	req.NoError(err)
	req.True(hasMore)
	req.Len(second, 20)
	req.Equal(inserted[5].ID, second[0].ID)
	req.Equal(inserted[24].ID, second[19].ID)

	third, hasMore, err := store.FetchPage(ctx, chat.ID, &second[0].CreatedAt, 20)
	req.NoError(err)
	req.False(hasMore)
	req.Len(third, 5)
	req.Equal(inserted[0].ID, third[0].ID)
	req.Equal(inserted[4].ID, third[4].ID)

	// Pages come back oldest first.
	for _, page := range [][]domain.Message{first, second, third} {
		for i := 1; i < len(page); i++ {
			req.False(page[i].CreatedAt.Before(page[i-1].CreatedAt))
		}
	}
}

func TestDeleteMessage(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	chat, err := store.CreateChat(ctx, uuid.New(), uuid.New())
	req.NoError(err)

	msg, err := store.Insert(ctx, domain.MessageDraft{
		ChatID: chat.ID, SenderID: chat.UserA, Content: "bye", Kind: domain.KindText,
	})
	req.NoError(err)

	req.NoError(store.Delete(ctx, msg.ID))

	page, hasMore, err := store.FetchPage(ctx, chat.ID, nil, 10)
	req.NoError(err)
	req.False(hasMore)
	req.Empty(page)

	err = store.Delete(ctx, msg.ID)
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestSubscribeReceivesOwnChatOnly(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat, err := store.CreateChat(ctx, uuid.New(), uuid.New())
	req.NoError(err)
	other, err := store.CreateChat(ctx, uuid.New(), uuid.New())
	req.NoError(err)

	feed, err := store.Subscribe(ctx, chat.ID)
	req.NoError(err)

	_, err = store.Insert(ctx, domain.MessageDraft{
		ChatID: other.ID, SenderID: other.UserA, Content: "elsewhere", Kind: domain.KindText,
	})
	req.NoError(err)

	msg, err := store.Insert(ctx, domain.MessageDraft{
		ChatID: chat.ID, SenderID: chat.UserA, Content: "here", Kind: domain.KindText,
	})
	req.NoError(err)

	select {
	case evt := <-feed:
		req.Equal(chat.ID, evt.ChatID)
		req.NotNil(evt.Message)
		req.Equal(msg.ID, evt.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("expected an insert event")
	}

	req.NoError(store.Delete(ctx, msg.ID))
	select {
	case evt := <-feed:
		req.Equal(msg.ID, evt.ID())
	case <-time.After(time.Second):
		t.Fatal("expected a delete event")
	}

	cancel()
	select {
	case _, open := <-feed:
		req.False(open)
	case <-time.After(time.Second):
		t.Fatal("expected the channel to close on cancel")
	}
}

func TestDeleteChatCascades(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	chat, err := store.CreateChat(ctx, a, b)
	req.NoError(err)

	msg, err := store.Insert(ctx, domain.MessageDraft{
		ChatID: chat.ID, SenderID: a, Content: "doomed", Kind: domain.KindText,
	})
	req.NoError(err)

	req.NoError(store.DeleteChat(ctx, chat.ID))

	found, err := store.LookupChat(ctx, a, b)
	req.NoError(err)
	req.Nil(found)

	err = store.Delete(ctx, msg.ID)
	req.ErrorIs(err, errors.ErrNotFound)

	// The pair binding is released too.
	fresh, err := store.CreateChat(ctx, a, b)
	req.NoError(err)
	req.NotEqual(chat.ID, fresh.ID)
}
