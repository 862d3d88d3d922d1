package sink

import (
	"context"
	"fmt"
	"log/slog"

	"duochat/domain/event"
	"duochat/search"
)

// IndexSink keeps the full-text index in step with the conversation.
type IndexSink struct {
	index *search.MessageIndex
	log   *slog.Logger
}

func NewIndexSink(index *search.MessageIndex, log *slog.Logger) IndexSink {
	return IndexSink{index: index, log: log}
}

func (i IndexSink) Consume(_ context.Context, e event.ChangeEvent) error {
	switch e.Kind {
	case event.ChangeInsert, event.ChangeUpdate:
		if e.Message == nil {
			return nil
		}
		return i.index.Index(*e.Message)
	case event.ChangeDelete:
		return i.index.Remove(e.MessageID)
	default:
		i.log.Debug(fmt.Sprintf("Not implemented event kind : %v", e.Kind))
		return nil
	}
}
