// Package relay shares change events between server instances. Each instance
// broadcasts to its own sessions first, then forwards the event to a shared
// channel; events arriving from other instances are broadcast locally.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"lagerkoll/internal/platform/metrics"
	"lagerkoll/internal/realtime"
	"lagerkoll/pkg/platform/circuit"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultRetryInterval  = 5 * time.Second
	defaultQueueSize      = 256
)

// Broadcaster is the local fan-out, normally *realtime.Hub.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev realtime.Event)
}

// Relay is a Publisher that also consumes events from other instances until
// ctx is cancelled.
type Relay interface {
	realtime.Publisher
	Run(ctx context.Context) error
	Close() error
}

type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

func encode(origin string, ev realtime.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Origin: origin, Event: raw})
}

func decode(data []byte) (string, realtime.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", realtime.Event{}, fmt.Errorf("decode relay envelope: %w", err)
	}
	if env.Origin == "" {
		return "", realtime.Event{}, errors.New("relay envelope without origin")
	}
	ev, err := realtime.Decode(env.Event)
	if err != nil {
		return "", realtime.Event{}, err
	}
	return env.Origin, ev, nil
}

// base holds what both relays share: identity, local fan-out, and the
// outbox that forwards events to the broker off the caller's goroutine.
type base struct {
	name           string
	origin         string
	local          Broadcaster
	logger         *slog.Logger
	metrics        *metrics.Metrics
	breaker        *circuit.Breaker
	publishTimeout time.Duration
	retryInterval  time.Duration
	queueSize      int

	outbox   chan []byte
	send     func(context.Context, []byte) error
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// Option configures a relay.
type Option func(*base)

func WithLogger(logger *slog.Logger) Option {
	return func(b *base) { b.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *base) { b.metrics = m }
}

// WithOrigin overrides the random instance identifier used to skip echoes.
func WithOrigin(origin string) Option {
	return func(b *base) {
		if origin != "" {
			b.origin = origin
		}
	}
}

func WithPublishTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.publishTimeout = d
		}
	}
}

// WithQueueSize bounds the outbox. When it is full new events are dropped.
func WithQueueSize(n int) Option {
	return func(b *base) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithRetryInterval sets how often one send is attempted while the breaker
// is open. Events in between are dropped without touching the broker.
func WithRetryInterval(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.retryInterval = d
		}
	}
}

func newBase(name string, local Broadcaster, opts []Option) *base {
	b := &base{
		name:           name,
		origin:         uuid.NewString(),
		local:          local,
		logger:         slog.Default(),
		publishTimeout: defaultPublishTimeout,
		retryInterval:  defaultRetryInterval,
		queueSize:      defaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.breaker = circuit.New(name, circuit.WithFailureThreshold(3))
	b.logger = b.logger.With("relay", name, "origin", b.origin)
	return b
}

// start launches the goroutine that drains the outbox through send.
func (b *base) start(send func(context.Context, []byte) error) {
	b.send = send
	b.outbox = make(chan []byte, b.queueSize)
	b.quit = make(chan struct{})
	b.stopped = make(chan struct{})
	go b.pump()
}

// stop ends the pump. Events still queued are dropped.
func (b *base) stop() {
	b.stopOnce.Do(func() {
		close(b.quit)
		<-b.stopped
	})
}

// Origin identifies this instance on the shared channel.
func (b *base) Origin() string { return b.origin }

// forward queues ev for the other instances without blocking. A full outbox
// drops the new event.
func (b *base) forward(ctx context.Context, ev realtime.Event) {
	payload, err := encode(b.origin, ev)
	if err != nil {
		b.logger.ErrorContext(ctx, "encode relay event", "type", ev.Type(), "error", err)
		return
	}
	select {
	case b.outbox <- payload:
	default:
		b.metrics.IncrementRelayDropped(b.name, "queue_full")
		b.logger.WarnContext(ctx, "relay outbox full, event not forwarded", "type", ev.Type())
	}
}

func (b *base) pump() {
	defer close(b.stopped)
	var lastAttempt time.Time
	for {
		select {
		case <-b.quit:
			return
		case payload := <-b.outbox:
			if b.breaker.IsOpen() && time.Since(lastAttempt) < b.retryInterval {
				b.metrics.IncrementRelayDropped(b.name, "breaker_open")
				continue
			}
			lastAttempt = time.Now()
			b.publish(payload)
		}
	}
}

func (b *base) publish(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()

	if err := b.send(ctx, payload); err != nil {
		b.metrics.IncrementRelayError(b.name, "publish")
		_, change := b.breaker.RecordFailure()
		switch {
		case change.Opened:
			b.logger.Error("relay unavailable, other instances will miss events", "error", err)
		case !b.breaker.IsOpen():
			b.logger.Warn("relay publish failed", "error", err)
		}
		return
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.logger.Info("relay recovered")
	}
}

// deliver broadcasts a remote message locally unless it is our own echo.
func (b *base) deliver(ctx context.Context, data []byte) {
	origin, ev, err := decode(data)
	if err != nil {
		b.metrics.IncrementRelayError(b.name, "decode")
		b.logger.WarnContext(ctx, "dropping malformed relay message", "error", err)
		return
	}
	if origin == b.origin {
		return
	}
	b.local.Broadcast(ctx, ev)
}
