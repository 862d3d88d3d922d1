//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"duochat/domain"
	"duochat/domain/event"

	"github.com/google/uuid"
)

// ChatStore is the chats-table slice of the remote store API.
type ChatStore interface {
	// LookupChat finds the chat between the two participants in either order.
	// A clean miss returns (nil, nil); an error means the lookup outcome is
	// indeterminate, not that the chat is absent.
	LookupChat(ctx context.Context, a, b uuid.UUID) (*domain.Chat, error)
	// CreateChat inserts a new chat row. The store assigns id and creation
	// timestamp. A uniqueness conflict surfaces as errors.ErrAlreadyExists.
	CreateChat(ctx context.Context, a, b uuid.UUID) (domain.Chat, error)
	// DeleteChat removes the chat row; the store cascades to its messages.
	DeleteChat(ctx context.Context, chatID uuid.UUID) error
}

// MessageStore is the messages-table slice of the remote store API.
// Implementations are stateless with respect to message identity.
type MessageStore interface {
	// FetchPage returns up to pageSize messages of the chat strictly older
	// than the cursor, ascending by creation time, plus a flag telling
	// whether older messages remain. A nil cursor means the newest page.
	FetchPage(ctx context.Context, chatID uuid.UUID, before *time.Time, pageSize int) ([]domain.Message, bool, error)
	// Insert stores a draft; id and timestamp are assigned by the store and
	// the full resulting row is returned.
	Insert(ctx context.Context, draft domain.MessageDraft) (domain.Message, error)
	// Delete removes a message row. An absent row surfaces as
	// errors.ErrNotFound, which callers may treat as success.
	Delete(ctx context.Context, messageID uuid.UUID) error
}

// ChangeFeed yields a live, unbounded sequence of row-change events for the
// messages table. Delivery is at-least-once and not ordered relative to the
// subscriber's own writes. The feed may be broader than one chat; consumers
// must filter by chat id. The returned channel closes only when the context
// is cancelled or the transport dies; it never terminates on its own.
type ChangeFeed interface {
	Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan event.ChangeEvent, error)
}

// ChangePublisher pushes a row-change notification onto the feed transport.
// Store adapters call it after every successful messages-table write so other
// subscribed clients observe the change.
type ChangePublisher interface {
	PublishChange(ctx context.Context, e event.ChangeEvent) error
}

// BlobStore is the blob storage API: named buckets holding uploaded bytes
// addressable by path, with stable public references.
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	// PublicURL returns the stable, publicly resolvable reference for a path.
	PublicURL(bucket, path string) string
	// Remove deletes a blob. Removing an absent path is not an error.
	Remove(ctx context.Context, bucket, path string) error
}

// EventSink consumes change events the engine has applied, for side effects
// such as the local mirror or the search index. Sinks must not mutate the
// engine's state.
type EventSink interface {
	Consume(ctx context.Context, e event.ChangeEvent) error
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

type WorkerName string

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// initialization or lifecycle events, avoiding the need for manual naming
// in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}
