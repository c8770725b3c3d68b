package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lagerkoll/internal/realtime"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Invalidator receives the cache keys made stale by an event.
type Invalidator interface {
	Invalidate(keys ...realtime.CacheKey)
}

// Subscriber keeps one WebSocket connection to /ws open and turns every
// change event into cache invalidations. There is no replay: after a
// reconnect every key is invalidated, since events may have been missed.
type Subscriber struct {
	url         string
	token       string
	invalidator Invalidator
	dialer      *websocket.Dialer
	logger      *slog.Logger

	baseDelay    time.Duration
	maxDelay     time.Duration
	pingInterval time.Duration
	pongTimeout  time.Duration

	onEvent func(realtime.Event)
	onState func(State)

	mu    sync.Mutex
	state State
}

type SubscriberOption func(*Subscriber)

// WithToken sends token as the "token" query parameter, the only credential
// browsers can attach to a WebSocket handshake.
func WithToken(token string) SubscriberOption {
	return func(s *Subscriber) { s.token = token }
}

func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = logger }
}

// WithBackoff sets the first and the largest reconnect delay.
func WithBackoff(base, maxDelay time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.baseDelay, s.maxDelay = base, maxDelay }
}

// WithKeepalive sets the ping interval and how long the connection may stay
// silent before it is considered dead.
func WithKeepalive(ping, pongWait time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.pingInterval, s.pongTimeout = ping, pongWait }
}

// OnEvent is called for every decoded event after its keys are invalidated.
func OnEvent(fn func(realtime.Event)) SubscriberOption {
	return func(s *Subscriber) { s.onEvent = fn }
}

// OnStateChange is called on every state transition.
func OnStateChange(fn func(State)) SubscriberOption {
	return func(s *Subscriber) { s.onState = fn }
}

// NewSubscriber connects to wsURL, e.g. "ws://localhost:8080/ws".
func NewSubscriber(wsURL string, invalidator Invalidator, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		url:          wsURL,
		invalidator:  invalidator,
		dialer:       websocket.DefaultDialer,
		logger:       slog.Default(),
		baseDelay:    reconnectBaseDelay,
		maxDelay:     reconnectMaxDelay,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(to State) {
	s.mu.Lock()
	from := s.state
	if from == to || !canTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			s.logger.Error("invalid subscriber state transition", "from", from, "to", to)
		}
		return
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("subscriber state changed", "from", from, "to", to)
	if s.onState != nil {
		s.onState(to)
	}
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. It returns ctx.Err() or an error that makes retrying pointless,
// such as a rejected token.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := s.baseDelay
	connectedBefore := false
	for {
		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.setState(StateDisconnected)
			if errors.Is(err, errUnauthorized) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("realtime dial failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = min(delay*2, s.maxDelay)
			continue
		}

		delay = s.baseDelay
		s.setState(StateConnected)
		if connectedBefore {
			// events published while we were away are lost
			s.invalidator.Invalidate(realtime.AllKeys...)
		}
		connectedBefore = true

		err = s.readLoop(ctx, conn)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("realtime connection lost", "error", err, "retry_in", delay)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

var errUnauthorized = errors.New("realtime handshake unauthorized")

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if s.token != "" {
		q := target.Query()
		q.Set("token", s.token)
		target.RawQuery = q.Encode()
	}
	conn, resp, err := s.dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errUnauthorized
		}
		return nil, err
	}
	return conn, nil
}

// readLoop reads events until the connection fails or ctx is done.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = conn.Close()
		case <-done:
		}
	}()
	go s.pingLoop(conn, done)

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.pongTimeout)) }
	conn.SetPongHandler(func(string) error { extend(); return nil })
	extend()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()

		ev, err := realtime.Decode(data)
		if err != nil {
			// a newer server may send types this client does not know
			s.logger.Warn("skipping undecodable realtime message", "error", err)
			continue
		}
		s.invalidator.Invalidate(realtime.KeysForEvent(ev)...)
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
