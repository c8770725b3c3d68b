package realtime

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"

	"lagerkoll/internal/platform/logger"
)

// deliveredIDs decodes the ids of the article_deleted frames f received.
func (f *fakeTransport) deliveredIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.frames))
	for _, frame := range f.frames {
		var msg struct {
			Data DeletedData `json:"data"`
		}
		if json.Unmarshal(frame, &msg) == nil {
			out = append(out, msg.Data.ID)
		}
	}
	return out
}

// Any interleaving of register, unregister and broadcast delivers to each
// session exactly the events broadcast while it was registered, in order.
// Sessions that were removed may miss a tail of what was queued, never a
// middle part.
func TestHubDeliveryProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		hub := NewHub(WithLogger(logger.Discard()), WithQueueSize(256))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = hub.Close(ctx)
		}()

		type tracked struct {
			session   *Session
			transport *fakeTransport
			expected  []uuid.UUID
			live      bool
		}
		var all []*tracked

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for range steps {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				tr := newFakeTransport()
				s := NewSession(tr)
				if err := hub.Register(s); err != nil {
					rt.Fatalf("register: %v", err)
				}
				all = append(all, &tracked{session: s, transport: tr, live: true})
			case 1:
				if len(all) == 0 {
					continue
				}
				victim := all[rapid.IntRange(0, len(all)-1).Draw(rt, "victim")]
				hub.Unregister(victim.session)
				victim.live = false
			case 2:
				id := uuid.New()
				hub.Broadcast(context.Background(), Deleted(ResourceArticle, id))
				for _, tr := range all {
					if tr.live {
						tr.expected = append(tr.expected, id)
					}
				}
			}
		}

		for _, tr := range all {
			if tr.live {
				deadline := time.Now().Add(2 * time.Second)
				for len(tr.transport.deliveredIDs()) < len(tr.expected) && time.Now().Before(deadline) {
					time.Sleep(2 * time.Millisecond)
				}
				if got := tr.transport.deliveredIDs(); !slices.Equal(got, tr.expected) {
					rt.Fatalf("live session got %v, want %v", got, tr.expected)
				}
				continue
			}
			got := tr.transport.deliveredIDs()
			if len(got) > len(tr.expected) || !slices.Equal(got, tr.expected[:len(got)]) {
				rt.Fatalf("removed session got %v, want a prefix of %v", got, tr.expected)
			}
		}
		if hub.SessionCount() != countLive(all, func(tr *tracked) bool { return tr.live }) {
			rt.Fatalf("registry size %d does not match live sessions", hub.SessionCount())
		}
	})
}

func countLive[T any](items []T, live func(T) bool) int {
	n := 0
	for _, it := range items {
		if live(it) {
			n++
		}
	}
	return n
}
