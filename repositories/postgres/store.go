// Package postgres is the remote relational store client. It speaks plain
// database/sql against the chats / messages / profiles tables and publishes
// a change event after every successful messages-table write so peer clients
// see the row change on the feed.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"duochat/contract"
	"duochat/domain"
	"duochat/domain/event"
	"duochat/errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

type Store struct {
	db        *sql.DB
	publisher contract.ChangePublisher
	log       *slog.Logger
}

// NewStore wraps an open connection pool. The publisher may be nil, in which
// case writes are still durable but invisible to live subscribers.
func NewStore(db *sql.DB, publisher contract.ChangePublisher, log *slog.Logger) *Store {
	return &Store{db: db, publisher: publisher, log: log}
}

const chatColumns = "id, user_a, user_b, created_at, last_message_at"

// LookupChat finds the chat for the unordered participant pair. A clean miss
// returns (nil, nil).
func (s *Store) LookupChat(ctx context.Context, a, b uuid.UUID) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats
		WHERE (user_a = $1 AND user_b = $2) OR (user_a = $2 AND user_b = $1)
		LIMIT 1`, a, b)

	chat, err := scanChat(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat lookup: %w", err)
	}
	return &chat, nil
}

func (s *Store) CreateChat(ctx context.Context, a, b uuid.UUID) (domain.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chats (user_a, user_b)
		VALUES ($1, $2)
		RETURNING `+chatColumns, a, b)

	chat, err := scanChat(row)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.Chat{}, fmt.Errorf("%w: %v", errors.ErrAlreadyExists, err)
		}
		return domain.Chat{}, fmt.Errorf("%w: chat insert: %v", errors.ErrStoreWrite, err)
	}
	return chat, nil
}

// DeleteChat removes the chat row; the messages FK cascades.
func (s *Store) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID); err != nil {
		return fmt.Errorf("%w: chat delete: %v", errors.ErrStoreWrite, err)
	}
	return nil
}

const messageColumns = "id, chat_id, sender_id, content, type, is_read, created_at, updated_at"

// FetchPage walks backward in time: it selects the newest pageSize messages
// strictly older than the cursor (or the newest overall when the cursor is
// nil) and returns them ascending. One extra row is fetched to decide
// hasMore without a second query.
func (s *Store) FetchPage(ctx context.Context, chatID uuid.UUID, before *time.Time, pageSize int) ([]domain.Message, bool, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = $1`
	args := []any{chatID}
	if before != nil {
		query += ` AND created_at < $2`
		args = append(args, before.UTC())
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, pageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}
	defer rows.Close()

	var newestFirst []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}

	hasMore := len(newestFirst) > pageSize
	if hasMore {
		newestFirst = newestFirst[:pageSize]
	}

	ascending := make([]domain.Message, len(newestFirst))
	for i, msg := range newestFirst {
		ascending[len(newestFirst)-1-i] = msg
	}
	return ascending, hasMore, nil
}

// Insert stores the draft and lets the database assign id and timestamp,
// then bumps the chat's last-activity marker and publishes the insert event.
func (s *Store) Insert(ctx context.Context, draft domain.MessageDraft) (domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, type)
		VALUES ($1, $2, $3, $4)
		RETURNING `+messageColumns,
		draft.ChatID, draft.SenderID, draft.Content, string(draft.Kind))

	msg, err := scanMessage(row)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: message insert: %v", errors.ErrStoreWrite, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET last_message_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ChatID); err != nil {
		s.log.Warn("Failed to bump chat last_message_at", "chat", msg.ChatID, "err", err)
	}

	s.publish(ctx, event.ChangeEvent{Kind: event.ChangeInsert, ChatID: msg.ChatID, Message: &msg})
	return msg, nil
}

// Delete removes one message row. An absent row surfaces as ErrNotFound so
// callers can treat it as an idempotent success.
func (s *Store) Delete(ctx context.Context, messageID uuid.UUID) error {
	var chatID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM messages WHERE id = $1 RETURNING chat_id`, messageID).Scan(&chatID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: message %s", errors.ErrNotFound, messageID)
	}
	if err != nil {
		return fmt.Errorf("%w: message delete: %v", errors.ErrStoreWrite, err)
	}

	s.publish(ctx, event.ChangeEvent{Kind: event.ChangeDelete, ChatID: chatID, MessageID: messageID})
	return nil
}

// GetProfile loads one participant profile.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, avatar_url
		FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.FullName, &p.Email, &p.AvatarURL)
	if stderrors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("%w: profile %s", errors.ErrNotFound, id)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}
	return p, nil
}

// publish is best-effort: a lost notification degrades liveness for peers,
// not durability, so the write itself never fails because of it.
func (s *Store) publish(ctx context.Context, e event.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, e); err != nil {
		s.log.Warn("Failed to publish change event", "kind", e.Kind, "err", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (domain.Chat, error) {
	var chat domain.Chat
	var lastMessageAt sql.NullTime
	if err := row.Scan(&chat.ID, &chat.UserA, &chat.UserB, &chat.CreatedAt, &lastMessageAt); err != nil {
		return domain.Chat{}, err
	}
	if lastMessageAt.Valid {
		t := lastMessageAt.Time.UTC()
		chat.LastMessageAt = &t
	}
	chat.CreatedAt = chat.CreatedAt.UTC()
	return chat, nil
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var kind string
	var updatedAt sql.NullTime
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &kind, &msg.IsRead,
		&msg.CreatedAt, &updatedAt); err != nil {
		return domain.Message{}, err
	}
	msg.Kind = domain.MessageKind(kind)
	msg.CreatedAt = msg.CreatedAt.UTC()
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		msg.UpdatedAt = &t
	}
	return msg, nil
}
