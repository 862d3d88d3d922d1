//go:generate go run go.uber.org/mock/mockgen -source=directory.go -destination=../mocks/mock_directory.go -package=mocks
package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"duochat/contract"
	"duochat/domain"
	"duochat/errors"

	"github.com/google/uuid"
)

type IDirectory interface {
	ResolveOrCreate(ctx context.Context, self, other uuid.UUID) (domain.Chat, error)
}

// Directory resolves or lazily creates the unique chat between two
// participants. It does not serialize the creation race between two clients;
// the store's uniqueness constraint is the authority, and a conflict is
// resolved by a follow-up lookup.
type Directory struct {
	chats contract.ChatStore
	log   *slog.Logger
}

func NewDirectory(chats contract.ChatStore, log *slog.Logger) Directory {
	return Directory{chats: chats, log: log}
}

// ResolveOrCreate looks the chat up in either participant order and creates
// it on a miss. A lookup failure that is not conclusively "not found" does
// not block the caller: creation is still attempted, and a duplicate-creation
// conflict is treated as "already exists" and re-resolved.
func (d Directory) ResolveOrCreate(ctx context.Context, self, other uuid.UUID) (domain.Chat, error) {
	chat, lookupErr := d.chats.LookupChat(ctx, self, other)
	if lookupErr == nil && chat != nil {
		return *chat, nil
	}
	if lookupErr != nil {
		d.log.Warn("Chat lookup failed, attempting creation", "err", lookupErr)
	}

	created, createErr := d.chats.CreateChat(ctx, self, other)
	if createErr == nil {
		return created, nil
	}

	if stderrors.Is(createErr, errors.ErrAlreadyExists) {
		chat, err := d.chats.LookupChat(ctx, self, other)
		if err == nil && chat != nil {
			return *chat, nil
		}
		return domain.Chat{}, fmt.Errorf("%w: conflict relookup failed: %v", errors.ErrChatResolution, err)
	}

	return domain.Chat{}, fmt.Errorf("%w: lookup: %v, create: %v", errors.ErrChatResolution, lookupErr, createErr)
}
