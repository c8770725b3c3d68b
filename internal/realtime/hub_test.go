package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"lagerkoll/internal/platform/logger"
	"lagerkoll/internal/platform/metrics"
)

// fakeTransport records written frames. Writes block while gate is held,
// which lets tests fill a session's queue deterministically.
type fakeTransport struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
	gate     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Write(data []byte) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		var msg struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(frame, &msg)
		out = append(out, msg.Type)
	}
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type HubSuite struct {
	suite.Suite
	hub     *Hub
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	ctx     context.Context
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.reg = prometheus.NewRegistry()
	s.metrics = metrics.New(s.reg)
	s.hub = NewHub(WithLogger(logger.Discard()), WithMetrics(s.metrics), WithQueueSize(4))
	s.ctx = context.Background()
}

func (s *HubSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.hub.Close(ctx))
}

func (s *HubSuite) register(t Transport) *Session {
	sess := NewSession(t)
	s.Require().NoError(s.hub.Register(sess))
	return sess
}

func (s *HubSuite) eventually(cond func() bool) {
	s.Require().Eventually(cond, time.Second, 5*time.Millisecond)
}

func (s *HubSuite) TestDelivery() {
	s.Run("every open session receives the event once", func() {
		a, b := newFakeTransport(), newFakeTransport()
		s.register(a)
		s.register(b)

		s.hub.Broadcast(s.ctx, Created(ResourceArticle, map[string]any{"articleNumber": "A-1"}))

		s.eventually(func() bool { return len(a.types()) == 1 && len(b.types()) == 1 })
		s.Equal([]string{"article_created"}, a.types())
		s.Equal([]string{"article_created"}, b.types())
	})

	s.Run("no sessions is a no-op", func() {
		hub := NewHub(WithLogger(logger.Discard()))
		hub.Broadcast(s.ctx, Cleared())
		s.Equal(0, hub.SessionCount())
	})
}

func (s *HubSuite) TestOrdering() {
	t := newFakeTransport()
	s.register(t)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	s.hub.Broadcast(s.ctx, Created(ResourceOrderLine, map[string]any{"id": ids[0]}))
	s.hub.Broadcast(s.ctx, Inventoried(map[string]any{"id": ids[0]}))
	s.hub.Broadcast(s.ctx, Deleted(ResourceOrderLine, ids[1]))

	s.eventually(func() bool { return len(t.types()) == 3 })
	s.Equal([]string{"order_line_created", "order_line_inventoried", "order_line_deleted"}, t.types())
}

func (s *HubSuite) TestConcurrentBroadcastsKeepOneOrder() {
	hub := NewHub(WithLogger(logger.Discard()), WithQueueSize(256))
	a, b := newFakeTransport(), newFakeTransport()
	s.Require().NoError(hub.Register(NewSession(a)))
	s.Require().NoError(hub.Register(NewSession(b)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				hub.Broadcast(s.ctx, Created(ResourceArticle, i))
			} else {
				hub.Broadcast(s.ctx, Updated(ResourceUser, i))
			}
		}(i)
	}
	wg.Wait()

	s.eventually(func() bool { return len(a.types()) == 50 && len(b.types()) == 50 })
	s.Equal(a.types(), b.types())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(hub.Close(ctx))
}

func (s *HubSuite) TestRegistration() {
	s.Run("register is idempotent", func() {
		t := newFakeTransport()
		sess := NewSession(t)
		s.Require().NoError(s.hub.Register(sess))
		s.Require().NoError(s.hub.Register(sess))
		before := s.hub.SessionCount()

		s.hub.Broadcast(s.ctx, Cleared())
		s.eventually(func() bool { return len(t.types()) == 1 })
		s.Equal(before, s.hub.SessionCount())
		s.hub.Unregister(sess)
	})

	s.Run("unregister twice is harmless", func() {
		sess := s.register(newFakeTransport())
		count := s.hub.SessionCount()
		s.hub.Unregister(sess)
		s.hub.Unregister(sess)
		s.Equal(count-1, s.hub.SessionCount())
	})

	s.Run("unregistered session receives nothing later", func() {
		t := newFakeTransport()
		sess := s.register(t)
		s.hub.Unregister(sess)

		s.hub.Broadcast(s.ctx, Created(ResourceUser, 1))
		s.eventually(t.isClosed)
		s.Empty(t.types())
	})

	s.Run("closed session cannot be registered again", func() {
		sess := s.register(newFakeTransport())
		s.hub.Unregister(sess)
		s.ErrorIs(s.hub.Register(sess), ErrSessionClosed)
	})

	s.Run("session cap is enforced", func() {
		hub := NewHub(WithLogger(logger.Discard()), WithMaxSessions(1))
		s.Require().NoError(hub.Register(NewSession(newFakeTransport())))
		s.ErrorIs(hub.Register(NewSession(newFakeTransport())), ErrTooManySessions)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Require().NoError(hub.Close(ctx))
	})
}

func (s *HubSuite) TestFailingSessionIsRemoved() {
	healthy := newFakeTransport()
	broken := newFakeTransport()
	broken.writeErr = errors.New("connection reset by peer")
	s.register(healthy)
	s.register(broken)
	s.Equal(2, s.hub.SessionCount())

	s.hub.Broadcast(s.ctx, Created(ResourceInventoryCount, 1))

	s.eventually(func() bool { return s.hub.SessionCount() == 1 })
	s.eventually(broken.isClosed)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SessionWriteErrors))

	s.hub.Broadcast(s.ctx, Created(ResourceInventoryCount, 2))
	s.eventually(func() bool { return len(healthy.types()) == 2 })
}

func (s *HubSuite) TestBroadcastSkipsSessionsClosedUnderneath() {
	t := newFakeTransport()
	sess := s.register(t)
	// Simulate the peer vanishing without the read loop noticing yet.
	sess.close()

	s.hub.Broadcast(s.ctx, Cleared())

	s.Equal(0, s.hub.SessionCount())
	s.Empty(t.types())
}

func (s *HubSuite) TestOverflow() {
	s.Run("drop oldest keeps the session and the newest events", func() {
		t := newFakeTransport()
		t.gate = make(chan struct{})
		s.register(t)

		// The writer takes the first event and blocks in Write; the next four
		// fill the queue and two more push the oldest queued ones out.
		for i := 0; i < 7; i++ {
			s.hub.Broadcast(s.ctx, Created(ResourceArticle, i))
			if i == 0 {
				time.Sleep(20 * time.Millisecond)
			}
		}
		close(t.gate)

		s.eventually(func() bool { return len(t.types()) == 5 })
		s.Equal(1, s.hub.SessionCount())
		s.GreaterOrEqual(testutil.ToFloat64(s.metrics.DeliveriesDropped.WithLabelValues("queue_full")), 1.0)
	})

	s.Run("disconnect policy removes the slow session", func() {
		hub := NewHub(WithLogger(logger.Discard()), WithQueueSize(1), WithOverflowPolicy(OverflowDisconnect))
		slow := newFakeTransport()
		slow.gate = make(chan struct{})
		fast := newFakeTransport()
		s.Require().NoError(hub.Register(NewSession(slow)))
		s.Require().NoError(hub.Register(NewSession(fast)))

		// Pause between events so the fast session always drains its
		// single-slot queue in time.
		for i := 0; i < 4; i++ {
			hub.Broadcast(s.ctx, Updated(ResourceArticle, i))
			time.Sleep(20 * time.Millisecond)
		}
		close(slow.gate)

		s.eventually(func() bool { return hub.SessionCount() == 1 })
		s.eventually(func() bool { return len(fast.types()) == 4 })

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Require().NoError(hub.Close(ctx))
	})
}

func (s *HubSuite) TestUnregisterDuringBroadcast() {
	hub := NewHub(WithLogger(logger.Discard()), WithQueueSize(1024))
	sessions := make([]*Session, 20)
	for i := range sessions {
		sessions[i] = NewSession(newFakeTransport())
		s.Require().NoError(hub.Register(sessions[i]))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.Broadcast(s.ctx, Updated(ResourceOrderLine, i))
		}
	}()
	go func() {
		defer wg.Done()
		for _, sess := range sessions {
			hub.Unregister(sess)
		}
	}()
	wg.Wait()

	s.Equal(0, hub.SessionCount())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(hub.Close(ctx))
}

func (s *HubSuite) TestCloseRejectsNewSessions() {
	t := newFakeTransport()
	s.register(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.hub.Close(ctx))

	s.True(t.isClosed())
	s.ErrorIs(s.hub.Register(NewSession(newFakeTransport())), ErrHubClosed)
}

func (s *HubSuite) TestSessionGaugeTracksRegistry() {
	a := s.register(newFakeTransport())
	s.register(newFakeTransport())
	s.Equal(2.0, testutil.ToFloat64(s.metrics.RealtimeSessions))

	s.hub.Unregister(a)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RealtimeSessions))
}

func TestParseOverflowPolicy(t *testing.T) {
	for in, want := range map[string]OverflowPolicy{
		"":            OverflowDropOldest,
		"drop-oldest": OverflowDropOldest,
		"disconnect":  OverflowDisconnect,
	} {
		got, err := ParseOverflowPolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseOverflowPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOverflowPolicy("block"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
