// Package runtime holds the conversation state machine. One Engine owns the
// ordered message list of exactly one chat; every mutation, whether a user
// command or a feed event, goes through its mutex so a reader never sees a
// half-applied change.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"duochat/auth"
	"duochat/contract"
	"duochat/domain"
	"duochat/domain/event"
	goerrors "duochat/errors"
	"duochat/moderation"
	"duochat/observability"
	"duochat/repositories/blob"
	"duochat/services"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type LoadingState string

const (
	StateIdle           LoadingState = "idle"
	StateLoadingInitial LoadingState = "loadingInitial"
	StateLoadingMore    LoadingState = "loadingMore"
	StateSending        LoadingState = "sending"
)

// ImageUploader is what SendImageMessage needs from the imaging package.
type ImageUploader interface {
	Upload(ctx context.Context, img image.Image) (string, error)
}

type Engine struct {
	directory   services.IDirectory
	chats       contract.ChatStore
	store       contract.MessageStore
	feed        contract.ChangeFeed
	uploader    ImageUploader
	blobs       contract.BlobStore
	imageBucket string
	censor      *moderation.Censor
	metrics     *observability.Metrics
	log         *slog.Logger

	selfID   uuid.UUID
	otherID  uuid.UUID
	pageSize int

	// lifetime bounds the feed subscription. Command contexts passed to
	// Start only cover the resolve and the first page fetch; without a
	// separate lifetime a per-command timeout would tear the feed down
	// seconds after a lazy start.
	lifetime context.Context

	// startMu serializes Start so two concurrent callers cannot both
	// resolve and subscribe, leaking the loser's feed channel.
	startMu sync.Mutex

	mu           sync.Mutex
	chatID       *uuid.UUID
	messages     []domain.Message
	state        LoadingState
	lastErr      error
	hasMore      bool
	events       <-chan event.ChangeEvent
	resubscribed bool

	sinks []contract.EventSink

	// Fired outside the lock whenever the id of the last list element
	// changes. The terminal client uses it as its scroll-to-bottom signal.
	onNewestChange func(newest *domain.Message)
}

func NewEngine(
	directory services.IDirectory,
	chats contract.ChatStore,
	store contract.MessageStore,
	feed contract.ChangeFeed,
	uploader ImageUploader,
	blobs contract.BlobStore,
	imageBucket string,
	censor *moderation.Censor,
	metrics *observability.Metrics,
	log *slog.Logger,
	selfID, otherID uuid.UUID,
	pageSize int,
) *Engine {
	return &Engine{
		directory:   directory,
		chats:       chats,
		store:       store,
		feed:        feed,
		uploader:    uploader,
		blobs:       blobs,
		imageBucket: imageBucket,
		censor:      censor,
		metrics:     metrics,
		log:         log,
		selfID:      selfID,
		otherID:     otherID,
		pageSize:    pageSize,
		lifetime:    context.Background(),
		state:       StateIdle,
	}
}

// WithLifetime sets the context that bounds the feed subscription, normally
// the process signal context. Defaults to context.Background().
func (e *Engine) WithLifetime(ctx context.Context) *Engine {
	e.lifetime = ctx
	return e
}

func (e *Engine) RegisterSink(sink contract.EventSink) {
	e.sinks = append(e.sinks, sink)
}

func (e *Engine) SetOnNewestChange(fn func(newest *domain.Message)) {
	e.onNewestChange = fn
}

// Start binds the engine to its chat: resolve, fetch the newest page, open
// the feed. ctx covers the resolve and the fetch only; the subscription is
// opened on the engine lifetime. Any failure leaves the engine idle with an
// empty list and the error recorded; the caller decides whether to try again.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if e.chatID != nil {
		e.mu.Unlock()
		return nil
	}
	e.state = StateLoadingInitial
	e.mu.Unlock()

	chat, err := e.directory.ResolveOrCreate(ctx, e.selfID, e.otherID)
	if err != nil {
		e.fail(err)
		return err
	}

	page, hasMore, err := e.store.FetchPage(ctx, chat.ID, nil, e.pageSize)
	if err != nil {
		e.fail(err)
		return err
	}
	e.metrics.IncrPagesFetched()

	events, err := e.feed.Subscribe(e.lifetime, chat.ID)
	if err != nil {
		e.fail(fmt.Errorf("%w: %v", goerrors.ErrFeedDisconnected, err))
		return err
	}

	e.mu.Lock()
	e.chatID = &chat.ID
	e.messages = page
	e.hasMore = hasMore
	e.events = events
	e.resubscribed = false
	e.state = StateIdle
	e.lastErr = nil
	newest := e.newestLocked()
	e.mu.Unlock()

	e.log.Info("Engine started", "chat", chat.ID, "messages", len(page), "has_more", hasMore)
	e.signalNewest(nil, newest)
	return nil
}

// LoadMoreMessages walks one page further back in time and prepends it.
// Already-held messages keep their order and identity, and the last element
// never changes, so no scroll signal fires.
func (e *Engine) LoadMoreMessages(ctx context.Context) error {
	e.mu.Lock()
	if e.chatID == nil || e.state != StateIdle || !e.hasMore || len(e.messages) == 0 {
		e.mu.Unlock()
		return nil
	}
	chatID := *e.chatID
	cursor := e.messages[0].CreatedAt
	e.state = StateLoadingMore
	e.mu.Unlock()

	page, hasMore, err := e.store.FetchPage(ctx, chatID, &cursor, e.pageSize)
	if err != nil {
		e.fail(err)
		return err
	}
	e.metrics.IncrPagesFetched()

	e.mu.Lock()
	held := lo.SliceToMap(e.messages, func(m domain.Message) (uuid.UUID, struct{}) {
		return m.ID, struct{}{}
	})
	fresh := lo.Filter(page, func(m domain.Message, _ int) bool {
		_, dup := held[m.ID]
		return !dup
	})
	e.messages = append(fresh, e.messages...)
	e.hasMore = hasMore
	e.state = StateIdle
	e.lastErr = nil
	e.mu.Unlock()
	return nil
}

// SendTextMessage trims, classifies (an absolute http/https URL becomes a
// link), censors plain text, and inserts. The message joins the list only
// once the store confirms it, and only if the feed has not already
// delivered it.
func (e *Engine) SendTextMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	kind := domain.ClassifyText(trimmed)
	content := trimmed
	if kind == domain.KindText && e.censor != nil {
		content = e.censor.Apply(trimmed)
	}
	return e.send(ctx, content, kind)
}

// SendImageMessage compresses and uploads off the mutation path, then runs
// the same insert flow with the blob reference as content. A failed upload
// never reaches the store.
func (e *Engine) SendImageMessage(ctx context.Context, img image.Image) error {
	reference, err := e.uploader.Upload(ctx, img)
	if err != nil {
		e.recordErr(err)
		return err
	}
	return e.send(ctx, reference, domain.KindImage)
}

func (e *Engine) send(ctx context.Context, content string, kind domain.MessageKind) error {
	if err := e.Start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	chatID := *e.chatID
	e.state = StateSending
	e.mu.Unlock()

	draft := domain.MessageDraft{
		ChatID:   chatID,
		SenderID: e.selfID,
		Content:  content,
		Kind:     kind,
	}
	if err := auth.ValidateDraft(draft); err != nil {
		e.fail(err)
		return err
	}

	msg, err := e.store.Insert(ctx, draft)
	if err != nil {
		e.fail(err)
		return err
	}
	e.metrics.IncrMessagesSent()

	e.mu.Lock()
	before := e.newestLocked()
	if !e.containsLocked(msg.ID) {
		e.messages = append(e.messages, msg)
	} else {
		e.metrics.IncrEventsDeduped()
	}
	after := e.newestLocked()
	e.state = StateIdle
	e.lastErr = nil
	e.mu.Unlock()

	e.signalNewest(before, after)
	return nil
}

// DeleteMessage removes the row and, for images, best-effort removes the
// backing blob first. The local list always drops the message; only a
// genuine transport failure surfaces as an error.
func (e *Engine) DeleteMessage(ctx context.Context, msg domain.Message) error {
	if msg.Kind == domain.KindImage && e.blobs != nil {
		if path := blob.PathInBucket(msg.Content, e.imageBucket); path != "" {
			if err := e.blobs.Remove(ctx, e.imageBucket, path); err != nil {
				e.log.Warn("Failed to remove image blob, row deletion proceeds",
					"message", msg.ID, "error", err)
			}
		}
	}

	err := e.store.Delete(ctx, msg.ID)
	if err != nil && stderrors.Is(err, goerrors.ErrNotFound) {
		err = nil
	}

	e.mu.Lock()
	before := e.newestLocked()
	e.messages = lo.Reject(e.messages, func(m domain.Message, _ int) bool {
		return m.ID == msg.ID
	})
	after := e.newestLocked()
	if err != nil {
		e.lastErr = err
		e.metrics.IncrErrorCount()
	}
	e.mu.Unlock()

	e.signalNewest(before, after)
	return err
}

// DeleteChat drops the chat row and clears the local list. The feed stays
// subscribed; subscription teardown belongs to whoever owns the engine's
// lifecycle.
func (e *Engine) DeleteChat(ctx context.Context) error {
	e.mu.Lock()
	if e.chatID == nil {
		e.mu.Unlock()
		return nil
	}
	chatID := *e.chatID
	e.mu.Unlock()

	if err := e.chats.DeleteChat(ctx, chatID); err != nil {
		e.recordErr(err)
		return err
	}

	e.mu.Lock()
	e.messages = nil
	e.hasMore = false
	e.mu.Unlock()
	return nil
}

// Apply folds one feed event into the list. Events for other chats are
// dropped before anything else happens. Insert and update replace in place
// when the id is already held (never reordering), otherwise append as the
// newest message. Delete removes by id, no-op when absent.
func (e *Engine) Apply(evt event.ChangeEvent) {
	e.mu.Lock()
	if e.chatID == nil || evt.ChatID != *e.chatID {
		e.mu.Unlock()
		return
	}

	before := e.newestLocked()
	switch evt.Kind {
	case event.ChangeInsert, event.ChangeUpdate:
		if evt.Message == nil {
			e.mu.Unlock()
			return
		}
		if i, found := e.indexLocked(evt.Message.ID); found {
			e.messages[i] = *evt.Message
			e.metrics.IncrEventsDeduped()
		} else {
			e.messages = append(e.messages, *evt.Message)
		}
	case event.ChangeDelete:
		e.messages = lo.Reject(e.messages, func(m domain.Message, _ int) bool {
			return m.ID == evt.ID()
		})
	}
	after := e.newestLocked()
	e.mu.Unlock()

	e.metrics.IncrEventsApplied()
	e.signalNewest(before, after)

	for _, sink := range e.sinks {
		if err := sink.Consume(context.Background(), evt); err != nil {
			e.log.Warn("Sink rejected event", "kind", evt.Kind, "error", err)
		}
	}
}

// Events hands the current feed channel to the pump worker.
func (e *Engine) Events() <-chan event.ChangeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// Resubscribe reopens the feed after a disconnect. Allowed once per Start;
// a second disconnect stays down until the next Start.
func (e *Engine) Resubscribe(ctx context.Context) error {
	e.mu.Lock()
	if e.chatID == nil {
		e.mu.Unlock()
		return goerrors.ErrFeedDisconnected
	}
	if e.resubscribed {
		e.lastErr = goerrors.ErrFeedDisconnected
		e.mu.Unlock()
		e.metrics.IncrFeedDisconnects()
		return goerrors.ErrFeedDisconnected
	}
	e.resubscribed = true
	chatID := *e.chatID
	e.mu.Unlock()

	e.metrics.IncrFeedDisconnects()
	events, err := e.feed.Subscribe(ctx, chatID)
	if err != nil {
		e.recordErr(fmt.Errorf("%w: %v", goerrors.ErrFeedDisconnected, err))
		return goerrors.ErrFeedDisconnected
	}

	e.mu.Lock()
	e.events = events
	e.mu.Unlock()
	e.log.Info("Feed resubscribed", "chat", chatID)
	return nil
}

func (e *Engine) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

func (e *Engine) State() LoadingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) HasMoreOlderMessages() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

func (e *Engine) ChatID() *uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chatID == nil {
		return nil
	}
	id := *e.chatID
	return &id
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.state = StateIdle
	e.mu.Unlock()
	e.metrics.IncrErrorCount()
}

func (e *Engine) recordErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.metrics.IncrErrorCount()
}

func (e *Engine) newestLocked() *domain.Message {
	if len(e.messages) == 0 {
		return nil
	}
	m := e.messages[len(e.messages)-1]
	return &m
}

func (e *Engine) containsLocked(id uuid.UUID) bool {
	_, found := e.indexLocked(id)
	return found
}

func (e *Engine) indexLocked(id uuid.UUID) (int, bool) {
	_, i, found := lo.FindIndexOf(e.messages, func(m domain.Message) bool {
		return m.ID == id
	})
	return i, found
}

func (e *Engine) signalNewest(before, after *domain.Message) {
	if e.onNewestChange == nil {
		return
	}
	switch {
	case before == nil && after == nil:
		return
	case before != nil && after != nil && before.ID == after.ID:
		return
	}
	e.onNewestChange(after)
}
