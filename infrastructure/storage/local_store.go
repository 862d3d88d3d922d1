// Package storage is the badger-backed local rendition of the store and
// feed contracts. It serves offline development and tests: same pagination
// and change-notification semantics as the remote store, one process, one
// disk directory.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"duochat/domain"
	"duochat/domain/event"
	"duochat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// The message key embeds a 19-digit zero-padded UnixNano so lexicographic
// order is chronological order; the uuid tail disambiguates two messages
// created in the same nanosecond. A second key indexes message id to full
// key for deletes.
const maxPaddedNano = "9999999999999999999"

func chatKey(id uuid.UUID) []byte { return []byte("chat:" + id.String()) }

func pairKey(a, b uuid.UUID) []byte {
	x, y := domain.PairKey(a, b)
	return []byte("chatpair:" + x.String() + ":" + y.String())
}

func messageKey(chatID uuid.UUID, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", chatID, at.UnixNano(), id))
}

func messagePrefix(chatID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", chatID))
}

func idIndexKey(id uuid.UUID) []byte { return []byte("msgid:" + id.String()) }

type LocalStore struct {
	db  *badger.DB
	log *slog.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID][]chan event.ChangeEvent
	buffer      int
}

func NewLocalStore(db *badger.DB, log *slog.Logger, buffer int) *LocalStore {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalStore{
		db:          db,
		log:         log,
		subscribers: make(map[uuid.UUID][]chan event.ChangeEvent),
		buffer:      buffer,
	}
}

// Rows are stored as JSON. The remote store speaks typed SQL rows; here the
// codec only needs to round-trip within one binary, so no generated schema
// is involved.
type diskChat struct {
	ID            uuid.UUID  `json:"id"`
	UserA         uuid.UUID  `json:"user_a"`
	UserB         uuid.UUID  `json:"user_b"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

type diskMessage struct {
	ID        uuid.UUID  `json:"id"`
	ChatID    uuid.UUID  `json:"chat_id"`
	SenderID  uuid.UUID  `json:"sender_id"`
	Content   string     `json:"content"`
	Type      string     `json:"type"`
	IsRead    bool       `json:"is_read"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func toDiskMessage(m domain.Message) diskMessage {
	return diskMessage{
		ID: m.ID, ChatID: m.ChatID, SenderID: m.SenderID, Content: m.Content,
		Type: string(m.Kind), IsRead: m.IsRead, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func fromDiskMessage(d diskMessage) domain.Message {
	return domain.Message{
		ID: d.ID, ChatID: d.ChatID, SenderID: d.SenderID, Content: d.Content,
		Kind: domain.MessageKind(d.Type), IsRead: d.IsRead, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// LookupChat resolves the unordered pair through the canonical pair index.
func (s *LocalStore) LookupChat(_ context.Context, a, b uuid.UUID) (*domain.Chat, error) {
	var chat *domain.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(a, b))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var chatID uuid.UUID
		if err := item.Value(func(val []byte) error {
			chatID, err = uuid.ParseBytes(val)
			return err
		}); err != nil {
			return err
		}
		c, err := s.readChat(txn, chatID)
		if err != nil {
			return err
		}
		chat = &c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat lookup: %w", err)
	}
	return chat, nil
}

func (s *LocalStore) CreateChat(_ context.Context, a, b uuid.UUID) (domain.Chat, error) {
	chat := domain.Chat{ID: uuid.New(), UserA: a, UserB: b, CreatedAt: time.Now().UTC()}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(pairKey(a, b)); err == nil {
			return errors.ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		row, err := json.Marshal(diskChat(chat))
		if err != nil {
			return err
		}
		if err := txn.Set(chatKey(chat.ID), row); err != nil {
			return err
		}
		return txn.Set(pairKey(a, b), []byte(chat.ID.String()))
	})
	if err != nil {
		if err == errors.ErrAlreadyExists {
			return domain.Chat{}, fmt.Errorf("%w: pair already bound", errors.ErrAlreadyExists)
		}
		return domain.Chat{}, fmt.Errorf("%w: chat insert: %v", errors.ErrStoreWrite, err)
	}
	return chat, nil
}

// DeleteChat removes the chat row, its pair binding, and cascades over all
// of its messages.
func (s *LocalStore) DeleteChat(_ context.Context, chatID uuid.UUID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		chat, err := s.readChat(txn, chatID)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}

		prefix := messagePrefix(chatID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var doomed [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			doomed = append(doomed, item.KeyCopy(nil))
			_ = item.Value(func(val []byte) error {
				var d diskMessage
				if json.Unmarshal(val, &d) == nil {
					doomed = append(doomed, idIndexKey(d.ID))
				}
				return nil
			})
		}
		it.Close()

		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if err := txn.Delete(pairKey(chat.UserA, chat.UserB)); err != nil {
			return err
		}
		return txn.Delete(chatKey(chatID))
	})
	if err != nil {
		return fmt.Errorf("%w: chat delete: %v", errors.ErrStoreWrite, err)
	}
	return nil
}

// FetchPage iterates in reverse from the cursor and collects one page plus
// one probe row for hasMore, then flips the batch to ascending. Thanks to
// the padded timestamp in the key no value needs decoding to sort.
func (s *LocalStore) FetchPage(_ context.Context, chatID uuid.UUID, before *time.Time, pageSize int) ([]domain.Message, bool, error) {
	prefix := messagePrefix(chatID)

	var seekKey []byte
	switch before {
	case nil:
		seekKey = append(append([]byte{}, prefix...), maxPaddedNano...)
	default:
		// Reverse Seek lands on the largest key strictly below this bound,
		// i.e. the newest message older than the cursor.
		seekKey = []byte(fmt.Sprintf("msg:%s:%019d", chatID, before.UnixNano()))
	}

	var newestFirst []domain.Message
	hasMore := false
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(newestFirst) == pageSize {
				hasMore = true
				break
			}
			var d diskMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			})
			if err != nil {
				return err
			}
			newestFirst = append(newestFirst, fromDiskMessage(d))
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errors.ErrStoreRead, err)
	}

	ascending := make([]domain.Message, len(newestFirst))
	for i, msg := range newestFirst {
		ascending[len(newestFirst)-1-i] = msg
	}
	return ascending, hasMore, nil
}

// Insert assigns id and timestamp (this store IS the authority here), writes
// the row plus its id index, and notifies subscribers.
func (s *LocalStore) Insert(ctx context.Context, draft domain.MessageDraft) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.New(),
		ChatID:    draft.ChatID,
		SenderID:  draft.SenderID,
		Content:   draft.Content,
		Kind:      draft.Kind,
		CreatedAt: time.Now().UTC(),
	}

	key := messageKey(msg.ChatID, msg.CreatedAt, msg.ID)
	row, err := json.Marshal(toDiskMessage(msg))
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, row); err != nil {
			return err
		}
		if err := txn.Set(idIndexKey(msg.ID), key); err != nil {
			return err
		}
		return s.bumpChat(txn, msg.ChatID, msg.CreatedAt)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: message insert: %v", errors.ErrStoreWrite, err)
	}

	s.notify(event.ChangeEvent{Kind: event.ChangeInsert, ChatID: msg.ChatID, Message: &msg})
	return msg, nil
}

// Mirror writes a remotely-authored message verbatim, keeping its id and
// timestamp so local pagination lines up with the remote order. Unlike
// Insert it does not notify subscribers: the caller is already reacting to
// a feed event.
func (s *LocalStore) Mirror(_ context.Context, msg domain.Message) error {
	key := messageKey(msg.ChatID, msg.CreatedAt, msg.ID)
	row, err := json.Marshal(toDiskMessage(msg))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStoreWrite, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, row); err != nil {
			return err
		}
		if err := txn.Set(idIndexKey(msg.ID), key); err != nil {
			return err
		}
		return s.bumpChat(txn, msg.ChatID, msg.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("%w: mirror write: %v", errors.ErrStoreWrite, err)
	}
	return nil
}

// Unmirror drops a mirrored row. An id the mirror never saw is a success:
// the feed may deliver deletes for messages older than the mirror.
func (s *LocalStore) Unmirror(_ context.Context, messageID uuid.UUID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idIndexKey(messageID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var key []byte
		if err := item.Value(func(val []byte) error {
			key = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idIndexKey(messageID))
	})
	if err != nil {
		return fmt.Errorf("%w: mirror delete: %v", errors.ErrStoreWrite, err)
	}
	return nil
}

// Delete resolves the row through the id index; an absent row surfaces as
// ErrNotFound so callers can treat it as an idempotent success.
func (s *LocalStore) Delete(_ context.Context, messageID uuid.UUID) error {
	var chatID uuid.UUID
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idIndexKey(messageID))
		if err != nil {
			return err
		}
		var key []byte
		if err := item.Value(func(val []byte) error {
			key = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}

		row, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := row.Value(func(val []byte) error {
			var d diskMessage
			if err := json.Unmarshal(val, &d); err != nil {
				return err
			}
			chatID = d.ChatID
			return nil
		}); err != nil {
			return err
		}

		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(idIndexKey(messageID))
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: message %s", errors.ErrNotFound, messageID)
	}
	if err != nil {
		return fmt.Errorf("%w: message delete: %v", errors.ErrStoreWrite, err)
	}

	s.notify(event.ChangeEvent{Kind: event.ChangeDelete, ChatID: chatID, MessageID: messageID})
	return nil
}

// Subscribe registers an in-process listener for one chat. The channel
// closes when ctx is cancelled.
func (s *LocalStore) Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan event.ChangeEvent, error) {
	ch := make(chan event.ChangeEvent, s.buffer)

	s.mu.Lock()
	s.subscribers[chatID] = append(s.subscribers[chatID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.subscribers[chatID]
		for i, sub := range subs {
			if sub == ch {
				s.subscribers[chatID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *LocalStore) notify(e event.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[e.ChatID] {
		select {
		case ch <- e:
		default:
			s.log.Warn("Local feed subscriber full, dropping event", "chat", e.ChatID, "kind", e.Kind)
		}
	}
}

func (s *LocalStore) readChat(txn *badger.Txn, chatID uuid.UUID) (domain.Chat, error) {
	item, err := txn.Get(chatKey(chatID))
	if err != nil {
		return domain.Chat{}, err
	}
	var d diskChat
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &d)
	}); err != nil {
		return domain.Chat{}, err
	}
	return domain.Chat(d), nil
}

func (s *LocalStore) bumpChat(txn *badger.Txn, chatID uuid.UUID, at time.Time) error {
	chat, err := s.readChat(txn, chatID)
	if err != nil {
		// Insert into an unknown chat is allowed in offline mode; nothing to bump.
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	}
	chat.LastMessageAt = &at
	row, err := json.Marshal(diskChat(chat))
	if err != nil {
		return err
	}
	return txn.Set(chatKey(chatID), row)
}
