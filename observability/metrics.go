// Package observability counts what the sync engine does so the heartbeat
// worker can log a periodic snapshot.
package observability

import (
	"log/slog"
	"sync/atomic"
	"time"
)

type Snapshot struct {
	MessagesSent    uint64 `json:"messages_sent"`
	EventsApplied   uint64 `json:"events_applied"`
	EventsDeduped   uint64 `json:"events_deduped"`
	PagesFetched    uint64 `json:"pages_fetched"`
	UploadBytes     uint64 `json:"upload_bytes"`
	FeedDisconnects uint64 `json:"feed_disconnects"`
	ErrorCount      uint64 `json:"error_count"`
}

// Metrics is safe for concurrent use; every counter is atomic.
type Metrics struct {
	log *slog.Logger

	messagesSent    uint64
	eventsApplied   uint64
	eventsDeduped   uint64
	pagesFetched    uint64
	uploadBytes     uint64
	feedDisconnects uint64
	errorCount      uint64
	startedAt       time.Time
}

func NewMetrics(log *slog.Logger) *Metrics {
	return &Metrics{log: log, startedAt: time.Now()}
}

func (m *Metrics) IncrMessagesSent()  { atomic.AddUint64(&m.messagesSent, 1) }
func (m *Metrics) IncrEventsApplied() { atomic.AddUint64(&m.eventsApplied, 1) }
func (m *Metrics) IncrEventsDeduped() { atomic.AddUint64(&m.eventsDeduped, 1) }
func (m *Metrics) IncrPagesFetched()  { atomic.AddUint64(&m.pagesFetched, 1) }
func (m *Metrics) IncrFeedDisconnects() {
	atomic.AddUint64(&m.feedDisconnects, 1)
}
func (m *Metrics) IncrErrorCount() { atomic.AddUint64(&m.errorCount, 1) }

func (m *Metrics) AddUploadBytes(n uint64) { atomic.AddUint64(&m.uploadBytes, n) }

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:    atomic.LoadUint64(&m.messagesSent),
		EventsApplied:   atomic.LoadUint64(&m.eventsApplied),
		EventsDeduped:   atomic.LoadUint64(&m.eventsDeduped),
		PagesFetched:    atomic.LoadUint64(&m.pagesFetched),
		UploadBytes:     atomic.LoadUint64(&m.uploadBytes),
		FeedDisconnects: atomic.LoadUint64(&m.feedDisconnects),
		ErrorCount:      atomic.LoadUint64(&m.errorCount),
	}
}

func (m *Metrics) LogSnapshot() {
	s := m.Snapshot()
	m.log.Info("Engine metrics",
		"uptime", time.Since(m.startedAt).Round(time.Second),
		"sent", s.MessagesSent,
		"applied", s.EventsApplied,
		"deduped", s.EventsDeduped,
		"pages", s.PagesFetched,
		"upload_bytes", s.UploadBytes,
		"feed_disconnects", s.FeedDisconnects,
		"errors", s.ErrorCount,
	)
}
