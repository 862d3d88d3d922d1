package redisfeed

import (
	"context"
	"fmt"
	"log/slog"

	"duochat/domain/event"
	"duochat/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher pushes change events onto the shared channel. Store adapters
// call it after each successful write.
type Publisher struct {
	client *redis.Client
	log    *slog.Logger
}

func NewPublisher(client *redis.Client, log *slog.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

func (p *Publisher) PublishChange(ctx context.Context, e event.ChangeEvent) error {
	payload, err := encodeEvent(e)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel, payload).Err()
}

// Feed subscribes to the shared channel and yields events for one chat.
type Feed struct {
	client *redis.Client
	log    *slog.Logger
	buffer int
}

func NewFeed(client *redis.Client, log *slog.Logger, buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{client: client, log: log, buffer: buffer}
}

// Subscribe opens the pub/sub subscription and returns a channel of events
// already filtered to the bound chat. The channel closes when ctx is
// cancelled or the underlying subscription dies; it never terminates on its
// own otherwise. Consumers treat an unexpected close as a disconnect.
func (f *Feed) Subscribe(ctx context.Context, chatID uuid.UUID) (<-chan event.ChangeEvent, error) {
	sub := f.client.Subscribe(ctx, Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: %v", errors.ErrFeedDisconnected, err)
	}

	out := make(chan event.ChangeEvent, f.buffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					f.log.Warn("Change feed subscription closed by transport")
					return
				}
				evt, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					f.log.Warn("Dropping undecodable change event", "err", err)
					continue
				}
				// The channel is table-wide; only the bound chat passes.
				if evt.ChatID != chatID {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
