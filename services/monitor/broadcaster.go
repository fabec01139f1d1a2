// Package monitor implements core.MonitoringService as an in-memory
// fan-out broadcaster: every LevelSnapshot is handed to a pluggable Sink
// (e.g. an SSE stream to the dashboard) and always to a logging sink, so
// an execution's progress is never silently lost even with no
// subscriber attached.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coordinatord/flowcore/services/core"
)

// Sink receives best-effort status snapshots. Implementations must not
// block for long; Broadcaster calls every sink inline, one after
// another, on the goroutine that produced the snapshot.
type Sink interface {
	Receive(snapshot core.LevelSnapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(snapshot core.LevelSnapshot)

func (f SinkFunc) Receive(snapshot core.LevelSnapshot) { f(snapshot) }

// boxedSink gives each subscription a distinct pointer identity, so its
// unsubscribe closure can find it even when the sink is a SinkFunc.
type boxedSink struct{ Sink }

// Broadcaster is a core.MonitoringService that fans a snapshot out to
// every registered sink plus structured logging.
type Broadcaster struct {
	Logger *slog.Logger

	mu    sync.RWMutex
	sinks map[string][]Sink // keyed by execution id, for per-execution subscriptions
}

// New constructs a Broadcaster. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{Logger: logger, sinks: make(map[string][]Sink)}
}

// Subscribe attaches sink to updates for executionID. The returned
// function detaches it; callers should defer it.
func (b *Broadcaster) Subscribe(executionID string, sink Sink) (unsubscribe func()) {
	box := &boxedSink{sink}
	b.mu.Lock()
	b.sinks[executionID] = append(b.sinks[executionID], box)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.sinks[executionID]
		for i, s := range list {
			if sameSink(s, box) {
				b.sinks[executionID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.sinks[executionID]) == 0 {
			delete(b.sinks, executionID)
		}
	}
}

func sameSink(a, b Sink) bool {
	_, aok := a.(SinkFunc)
	_, bok := b.(SinkFunc)
	if aok || bok {
		return false // func values are never comparable; caller must keep its unsubscribe closure
	}
	return a == b
}

// SendUpdate implements core.MonitoringService.
func (b *Broadcaster) SendUpdate(ctx context.Context, snapshot core.LevelSnapshot) {
	b.Logger.InfoContext(ctx, "execution snapshot",
		"executionId", snapshot.ExecutionID,
		"level", snapshot.LevelIndex,
		"status", snapshot.Record.Status,
	)

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks[snapshot.ExecutionID]...)
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Receive(snapshot)
	}
}

var _ core.MonitoringService = (*Broadcaster)(nil)
