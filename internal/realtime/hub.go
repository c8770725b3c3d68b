package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lagerkoll/internal/platform/metrics"
)

var (
	ErrHubClosed       = errors.New("realtime hub closed")
	ErrSessionClosed   = errors.New("session closed")
	ErrTooManySessions = errors.New("too many realtime sessions")
)

// OverflowPolicy decides what happens when a slow session's queue is full.
type OverflowPolicy int

const (
	// OverflowDropOldest discards the oldest queued event. The client will
	// have a gap, which it tolerates by refetching on its next event.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowDisconnect unregisters the session; the client reconnects.
	OverflowDisconnect
)

func (p OverflowPolicy) String() string {
	if p == OverflowDisconnect {
		return "disconnect"
	}
	return "drop-oldest"
}

// ParseOverflowPolicy accepts "drop-oldest" or "disconnect".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop-oldest":
		return OverflowDropOldest, nil
	case "disconnect":
		return OverflowDisconnect, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

const defaultQueueSize = 64

// Hub is the registry of live sessions and the broadcast point for change
// events. It is safe for concurrent use. Create one per process and inject it
// into the services that publish.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	closed   bool

	// broadcastMu serializes Broadcast so every session sees one global order.
	broadcastMu sync.Mutex
	wg          sync.WaitGroup

	queueSize    int
	overflow     OverflowPolicy
	pingInterval time.Duration
	maxSessions  int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithQueueSize bounds the per-session send queue.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(h *Hub) { h.overflow = p }
}

// WithPingInterval enables keepalive pings on transports that implement Pinger.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// WithMaxSessions caps concurrent sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(h *Hub) { h.maxSessions = n }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:  make(map[*Session]struct{}),
		queueSize: defaultQueueSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds s to the broadcast set and starts its writer. Registering a
// session twice is a no-op.
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if _, ok := h.sessions[s]; ok {
		h.mu.Unlock()
		return nil
	}
	if !s.Open() {
		h.mu.Unlock()
		return ErrSessionClosed
	}
	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		h.mu.Unlock()
		return ErrTooManySessions
	}
	if s.started.CompareAndSwap(false, true) {
		s.queue = make(chan []byte, h.queueSize)
		h.wg.Add(1)
		go s.writePump(h)
	}
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetSessions(n)
	h.logger.Info("realtime session registered", append(s.logAttrs(), "sessions", n)...)
	return nil
}

// Unregister removes s and ends it. It is safe to call for sessions that were
// never registered or were already removed.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	s.close()
	if !ok {
		return
	}
	h.metrics.SetSessions(n)
	h.logger.Info("realtime session unregistered", append(s.logAttrs(),
		"sessions", n,
		"connected_for", time.Since(s.connectedAt).Round(time.Millisecond),
	)...)
}

// Broadcast queues ev on every open session. It never blocks on a client:
// sessions that are closed, failed, or overflowing under OverflowDisconnect
// are unregistered instead.
func (h *Hub) Broadcast(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "serialize realtime event", "type", ev.Type(), "error", err)
		return
	}

	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	var stale []*Session
	h.mu.RLock()
	delivered := 0
	for s := range h.sessions {
		if !s.Open() {
			stale = append(stale, s)
			continue
		}
		ok, dropped := s.enqueue(data, h.overflow)
		if dropped {
			h.metrics.IncrementDropped("queue_full")
			h.logger.WarnContext(ctx, "realtime queue full, dropped oldest event", s.logAttrs()...)
		}
		if !ok {
			h.metrics.IncrementDropped("disconnect")
			stale = append(stale, s)
			continue
		}
		delivered++
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.Unregister(s)
	}
	h.metrics.IncrementBroadcast(ev.Type())
	h.logger.DebugContext(ctx, "realtime event broadcast",
		"type", ev.Type(),
		"sessions", delivered,
		"removed", len(stale),
	)
}

// Publish implements Publisher.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.Broadcast(ctx, ev)
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session and waits for their writers to exit or ctx to
// expire. Later registrations fail with ErrHubClosed.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	clear(h.sessions)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.metrics.SetSessions(0)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
