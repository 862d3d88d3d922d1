package workers

import (
	"context"
	"log/slog"
	"time"

	"duochat/runtime"
)

// FeedPump drains the engine's feed channel and funnels every event into
// the engine's serialization point. When the channel closes it asks the
// engine to resubscribe; a refused resubscription ends the worker without
// error, leaving the engine offline until the next Start.
type FeedPump struct {
	engine *runtime.Engine
	log    *slog.Logger
}

func NewFeedPump(engine *runtime.Engine, log *slog.Logger) *FeedPump {
	return &FeedPump{engine: engine, log: log}
}

func (p *FeedPump) Run(ctx context.Context) error {
	for {
		events := p.engine.Events()
		if events == nil {
			// Engine not started yet; check again shortly.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

	pump:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case evt, open := <-events:
				if !open {
					break pump
				}
				p.engine.Apply(evt)
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("Feed channel closed, attempting resubscribe")
		if err := p.engine.Resubscribe(ctx); err != nil {
			p.log.Error("Feed stays disconnected", "error", err)
			return nil
		}
	}
}
