// Package realtimetest provides an in-memory realtime.Transport for tests
// that need to observe what a connected client receives.
package realtimetest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Message is one decoded frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Transport records every frame written to it.
type Transport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	notify chan struct{}
}

func NewTransport() *Transport {
	return &Transport{notify: make(chan struct{}, 1)}
}

func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	t.frames = append(t.frames, append([]byte(nil), data...))
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Messages returns the frames received so far.
func (t *Transport) Messages(tb testing.TB) []Message {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.frames))
	for _, f := range t.frames {
		var m Message
		if err := json.Unmarshal(f, &m); err != nil {
			tb.Fatalf("decode frame %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

// WaitMessages blocks until at least n frames arrived or timeout passes, then
// returns what was received.
func (t *Transport) WaitMessages(tb testing.TB, n int, timeout time.Duration) []Message {
	tb.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		t.mu.Lock()
		got := len(t.frames)
		t.mu.Unlock()
		if got >= n {
			return t.Messages(tb)
		}
		select {
		case <-t.notify:
		case <-deadline.C:
			tb.Fatalf("expected %d messages, got %d", n, got)
			return nil
		}
	}
}

// Quiet asserts that nothing beyond the first n frames arrives within d.
func (t *Transport) Quiet(tb testing.TB, n int, d time.Duration) {
	tb.Helper()
	time.Sleep(d)
	if got := len(t.Messages(tb)); got != n {
		tb.Fatalf("expected %d messages, got %d", n, got)
	}
}
