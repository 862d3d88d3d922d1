package services

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"duochat/domain"
	"duochat/errors"
	"duochat/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func Test_ResolveOrCreate_Found(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self, other := uuid.New(), uuid.New()
	existing := domain.Chat{ID: uuid.New(), UserA: other, UserB: self}

	chats := mocks.NewMockChatStore(ctrl)
	chats.EXPECT().LookupChat(gomock.Any(), self, other).Return(&existing, nil)

	dir := NewDirectory(chats, slog.Default())
	chat, err := dir.ResolveOrCreate(context.Background(), self, other)
	req.NoError(err)
	req.Equal(existing.ID, chat.ID)
}

func Test_ResolveOrCreate_Creates_On_Miss(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self, other := uuid.New(), uuid.New()
	created := domain.Chat{ID: uuid.New(), UserA: self, UserB: other}

	chats := mocks.NewMockChatStore(ctrl)
	chats.EXPECT().LookupChat(gomock.Any(), self, other).Return(nil, nil)
	chats.EXPECT().CreateChat(gomock.Any(), self, other).Return(created, nil)

	dir := NewDirectory(chats, slog.Default())
	chat, err := dir.ResolveOrCreate(context.Background(), self, other)
	req.NoError(err)
	req.Equal(created.ID, chat.ID)
}

func Test_ResolveOrCreate_Creates_Despite_Lookup_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self, other := uuid.New(), uuid.New()
	created := domain.Chat{ID: uuid.New(), UserA: self, UserB: other}

	chats := mocks.NewMockChatStore(ctrl)
	chats.EXPECT().LookupChat(gomock.Any(), self, other).Return(nil, fmt.Errorf("connection reset"))
	chats.EXPECT().CreateChat(gomock.Any(), self, other).Return(created, nil)

	dir := NewDirectory(chats, slog.Default())
	chat, err := dir.ResolveOrCreate(context.Background(), self, other)
	req.NoError(err)
	req.Equal(created.ID, chat.ID)
}

func Test_ResolveOrCreate_Conflict_Relookup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self, other := uuid.New(), uuid.New()
	winner := domain.Chat{ID: uuid.New(), UserA: other, UserB: self}

	chats := mocks.NewMockChatStore(ctrl)
	gomock.InOrder(
		chats.EXPECT().LookupChat(gomock.Any(), self, other).Return(nil, nil),
		chats.EXPECT().CreateChat(gomock.Any(), self, other).
			Return(domain.Chat{}, fmt.Errorf("%w: chats_pair_key", errors.ErrAlreadyExists)),
		chats.EXPECT().LookupChat(gomock.Any(), self, other).Return(&winner, nil),
	)

	dir := NewDirectory(chats, slog.Default())
	chat, err := dir.ResolveOrCreate(context.Background(), self, other)
	req.NoError(err)
	req.Equal(winner.ID, chat.ID)
}

func Test_ResolveOrCreate_Fails_When_Both_Fail(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	self, other := uuid.New(), uuid.New()

	chats := mocks.NewMockChatStore(ctrl)
	chats.EXPECT().LookupChat(gomock.Any(), self, other).Return(nil, fmt.Errorf("timeout"))
	chats.EXPECT().CreateChat(gomock.Any(), self, other).Return(domain.Chat{}, fmt.Errorf("timeout"))

	dir := NewDirectory(chats, slog.Default())
	_, err := dir.ResolveOrCreate(context.Background(), self, other)
	req.ErrorIs(err, errors.ErrChatResolution)
}
