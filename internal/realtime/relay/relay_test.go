package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lagerkoll/internal/platform/logger"
	"lagerkoll/internal/platform/metrics"
	"lagerkoll/internal/realtime"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBroadcaster) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type()
	}
	return out
}

func TestEnvelopeRoundTrip(t *testing.T) {
	id := uuid.New()
	data, err := encode("instance-a", realtime.Deleted(realtime.ResourceArticle, id))
	require.NoError(t, err)

	origin, ev, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", origin)
	assert.Equal(t, realtime.KindDeleted, ev.Kind())
	assert.Equal(t, realtime.ResourceArticle, ev.Resource())

	wire, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"article_deleted","data":{"id":"`+id.String()+`"}}`, string(wire))
}

func TestDecodeRejectsBadEnvelopes(t *testing.T) {
	for name, input := range map[string]string{
		"not json":       `nope`,
		"missing origin": `{"event":{"type":"data_cleared"}}`,
		"unknown event":  `{"origin":"x","event":{"type":"pallet_moved"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := decode([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestDeliverSkipsOwnEcho(t *testing.T) {
	local := &recordingBroadcaster{}
	b := newBase("test", local, []Option{WithOrigin("self"), WithLogger(logger.Discard())})

	own, err := encode("self", realtime.Cleared())
	require.NoError(t, err)
	remote, err := encode("other", realtime.Created(realtime.ResourceUser, map[string]string{"username": "eva"}))
	require.NoError(t, err)

	b.deliver(context.Background(), own)
	b.deliver(context.Background(), remote)
	b.deliver(context.Background(), []byte(`garbage`))

	assert.Equal(t, []string{"user_created"}, local.types())
}

// startBase builds a relay core around send and stops it when the test ends.
func startBase(t *testing.T, send func(context.Context, []byte) error, opts ...Option) (*base, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	b := newBase("test", &recordingBroadcaster{}, append([]Option{WithLogger(logger.Discard()), WithMetrics(m)}, opts...))
	b.start(send)
	t.Cleanup(b.stop)
	return b, m
}

func TestForwardDoesNotWaitForBroker(t *testing.T) {
	release := make(chan struct{})
	hanging := func(ctx context.Context, _ []byte) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}
	b, m := startBase(t, hanging, WithQueueSize(2), WithPublishTimeout(time.Minute))
	// runs before the stop registered by startBase
	t.Cleanup(func() { close(release) })

	start := time.Now()
	for i := 0; i < 10; i++ {
		b.forward(context.Background(), realtime.Cleared())
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.RelayDropped.WithLabelValues("test", "queue_full")), 7.0)
}

func TestPublishReturnsWhileRedisHangs(t *testing.T) {
	local := &recordingBroadcaster{}
	// nothing listens on this address, and the dial timeout exceeds the test budget
	client := redis.NewClient(&redis.Options{Addr: "10.255.255.1:6379", DialTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedis(client, "lagerkoll:test", local, WithLogger(logger.Discard()))
	t.Cleanup(func() { _ = r.Close() })

	start := time.Now()
	r.Publish(context.Background(), realtime.Cleared())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, []string{"data_cleared"}, local.types())
}

func TestOpenBreakerSkipsBroker(t *testing.T) {
	var calls atomic.Int32
	failing := func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("broker down")
	}
	b, m := startBase(t, failing, WithRetryInterval(time.Hour))

	for i := 0; i < 3; i++ {
		b.forward(context.Background(), realtime.Cleared())
	}
	require.Eventually(t, b.breaker.IsOpen, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RelayErrors.WithLabelValues("test", "publish")))

	for i := 0; i < 5; i++ {
		b.forward(context.Background(), realtime.Cleared())
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.RelayDropped.WithLabelValues("test", "breaker_open")) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBreakerRetriesAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	send := func(context.Context, []byte) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("broker down")
	}
	b, _ := startBase(t, send, WithRetryInterval(10*time.Millisecond))

	for i := 0; i < 3; i++ {
		b.forward(context.Background(), realtime.Cleared())
	}
	require.Eventually(t, b.breaker.IsOpen, time.Second, 5*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		b.forward(context.Background(), realtime.Cleared())
		return !b.breaker.IsOpen()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestForwardDetachesFromRequestCancellation(t *testing.T) {
	sent := make(chan error, 1)
	b, _ := startBase(t, func(ctx context.Context, _ []byte) error {
		sent <- ctx.Err()
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.forward(ctx, realtime.Cleared())
	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("event was not forwarded")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b, _ := startBase(t, func(context.Context, []byte) error { return nil })
	b.stop()
	b.stop()
	b.forward(context.Background(), realtime.Cleared())
}
