// Package sink holds the side consumers of applied change events: the local
// badger mirror and the full-text index. The engine fans applied events out
// to sinks after its own list mutation, so a sink failure never corrupts the
// conversation state.
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"duochat/domain/event"
	"duochat/infrastructure/storage"
)

// MirrorSink replays remote change events into the local badger store so an
// offline restart can serve history without the network.
type MirrorSink struct {
	local *storage.LocalStore
	log   *slog.Logger
}

func NewMirrorSink(local *storage.LocalStore, log *slog.Logger) MirrorSink {
	return MirrorSink{local: local, log: log}
}

func (m MirrorSink) Consume(ctx context.Context, e event.ChangeEvent) error {
	switch e.Kind {
	case event.ChangeInsert, event.ChangeUpdate:
		if e.Message == nil {
			return nil
		}
		return m.local.Mirror(ctx, *e.Message)
	case event.ChangeDelete:
		return m.local.Unmirror(ctx, e.MessageID)
	default:
		m.log.Debug(fmt.Sprintf("Not implemented event kind : %v", e.Kind))
		return nil
	}
}
