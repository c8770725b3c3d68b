package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport is the connection a Session writes to. Write and Ping are only
// ever called from the session's writer goroutine; Close is called once,
// from that goroutine, when the session ends.
type Transport interface {
	Write(data []byte) error
	Close() error
}

// Pinger is implemented by transports that support keepalive frames.
type Pinger interface {
	Ping() error
}

// Session is one live client connection registered with a Hub.
type Session struct {
	id          uuid.UUID
	transport   Transport
	connectedAt time.Time
	userID      uuid.UUID
	remoteAddr  string
	client      string

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
	failed    atomic.Bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithUserID records the authenticated user for logging.
func WithUserID(id uuid.UUID) SessionOption {
	return func(s *Session) { s.userID = id }
}

// WithClientInfo records where the connection came from.
func WithClientInfo(remoteAddr, client string) SessionOption {
	return func(s *Session) {
		s.remoteAddr = remoteAddr
		s.client = client
	}
}

// NewSession wraps t. The session is inert until registered with a Hub.
func NewSession(t Transport, opts ...SessionOption) *Session {
	s := &Session{
		id:          uuid.New(),
		transport:   t,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() uuid.UUID          { return s.id }
func (s *Session) UserID() uuid.UUID      { return s.userID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Done is closed when the session has been unregistered.
func (s *Session) Done() <-chan struct{} { return s.done }

// Open reports whether the session can still receive events.
func (s *Session) Open() bool {
	if s.failed.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Session) logAttrs() []any {
	return []any{
		"session_id", s.id,
		"user_id", s.userID,
		"remote_addr", s.remoteAddr,
		"client", s.client,
	}
}

// close ends the session. The queue channel is never closed, so a concurrent
// enqueue cannot panic.
func (s *Session) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}

// enqueue queues data without blocking. It returns false only when the queue
// is full and the policy is Disconnect. dropped reports that an older message
// was discarded to make room.
func (s *Session) enqueue(data []byte, policy OverflowPolicy) (ok, dropped bool) {
	select {
	case s.queue <- data:
		return true, false
	default:
	}
	if policy == OverflowDisconnect {
		return false, false
	}
	select {
	case <-s.queue:
		dropped = true
	default:
	}
	select {
	case s.queue <- data:
	default:
		dropped = true
	}
	return true, dropped
}

// writePump is the only goroutine that touches the transport.
func (s *Session) writePump(h *Hub) {
	defer h.wg.Done()
	defer func() {
		if err := s.transport.Close(); err != nil {
			h.logger.Debug("session transport close", append(s.logAttrs(), "error", err)...)
		}
	}()

	var (
		pinger Pinger
		pingC  <-chan time.Time
	)
	if p, ok := s.transport.(Pinger); ok && h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		pinger = p
		pingC = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		default:
		}

		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			if err := s.transport.Write(msg); err != nil {
				s.fail(h, "write", err)
				return
			}
		case <-pingC:
			if err := pinger.Ping(); err != nil {
				s.fail(h, "ping", err)
				return
			}
		}
	}
}

func (s *Session) fail(h *Hub, op string, err error) {
	s.failed.Store(true)
	h.metrics.IncrementWriteError()
	h.logger.Warn("session delivery failed", append(s.logAttrs(), "op", op, "error", err)...)
	h.Unregister(s)
}
