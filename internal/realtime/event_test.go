package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEventWireFormat(t *testing.T) {
	id := uuid.MustParse("0b7a3a1e-4f0e-4d53-9d7e-1f3f4c1c2a10")

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "created carries the record",
			ev:   Created(ResourceArticle, map[string]any{"articleNumber": "A-100"}),
			want: `{"type":"article_created","data":{"articleNumber":"A-100"}}`,
		},
		{
			name: "deleted carries only the id",
			ev:   Deleted(ResourceInventoryCount, id),
			want: `{"type":"inventory_count_deleted","data":{"id":"0b7a3a1e-4f0e-4d53-9d7e-1f3f4c1c2a10"}}`,
		},
		{
			name: "imported uses the plural resource",
			ev:   Imported(ResourceOrderLine, []int{1, 2}, 2),
			want: `{"type":"order_lines_imported","data":{"count":2,"records":[1,2]}}`,
		},
		{
			name: "inventoried is an order line update",
			ev:   Inventoried(map[string]any{"inventoried": true}),
			want: `{"type":"order_line_inventoried","data":{"inventoried":true}}`,
		},
		{
			name: "cleared has no data",
			ev:   Cleared(),
			want: `{"type":"data_cleared"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestInventoriedKind(t *testing.T) {
	ev := Inventoried(nil)
	assert.Equal(t, KindUpdated, ev.Kind())
	assert.Equal(t, ResourceOrderLine, ev.Resource())
}

func TestZeroEventDoesNotMarshal(t *testing.T) {
	_, err := json.Marshal(Event{})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Run("keeps payload bytes", func(t *testing.T) {
		raw := []byte(`{"type":"user_updated","data":{"id":"x","role":"worker"}}`)
		ev, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, KindUpdated, ev.Kind())
		assert.Equal(t, ResourceUser, ev.Resource())

		out, err := json.Marshal(ev)
		require.NoError(t, err)
		assert.JSONEq(t, string(raw), string(out))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"article_exploded"}`))
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":`))
		assert.Error(t, err)
	})
}

func genEvent() *rapid.Generator[Event] {
	return rapid.Custom(func(t *rapid.T) Event {
		resource := rapid.SampledFrom(Resources).Draw(t, "resource")
		payload := map[string]any{"n": rapid.IntRange(0, 1000).Draw(t, "n")}
		switch rapid.IntRange(0, 5).Draw(t, "ctor") {
		case 0:
			return Created(resource, payload)
		case 1:
			return Updated(resource, payload)
		case 2:
			return Deleted(resource, uuid.New())
		case 3:
			return Imported(resource, []any{payload}, 1)
		case 4:
			return Inventoried(payload)
		default:
			return Cleared()
		}
	})
}

// Every constructed event survives the wire: its type parses back to the same
// kind and resource, and decoding then re-encoding is stable.
func TestEventRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ev := genEvent().Draw(t, "event")

		kind, resource, err := ParseType(ev.Type())
		if err != nil {
			t.Fatalf("ParseType(%q): %v", ev.Type(), err)
		}
		if kind != ev.Kind() || resource != ev.Resource() {
			t.Fatalf("ParseType(%q) = %v/%q, want %v/%q", ev.Type(), kind, resource, ev.Kind(), ev.Resource())
		}

		first, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		decoded, err := Decode(first)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		second, err := json.Marshal(decoded)
		if err != nil {
			t.Fatalf("re-marshal: %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("wire form changed: %s != %s", first, second)
		}
	})
}

func TestKeysForIsTotal(t *testing.T) {
	for _, r := range Resources {
		keys := KeysFor(r)
		assert.NotEmpty(t, keys, "resource %q has no invalidation keys", r)
		for _, k := range keys {
			assert.Contains(t, AllKeys, k)
		}
	}
}

func TestInvalidationDependencies(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []CacheKey
	}{
		{"user change", Created(ResourceUser, nil), []CacheKey{KeyUsers, KeyInventoryCounts, KeyOrderLines}},
		{"user deletion refreshes detached references", Deleted(ResourceUser, uuid.New()), []CacheKey{KeyUsers, KeyInventoryCounts, KeyOrderLines}},
		{"article change touches derived views", Updated(ResourceArticle, nil), []CacheKey{KeyArticles, KeyInventoryCounts, KeyOrderLines}},
		{"order line change", Inventoried(nil), []CacheKey{KeyOrderLines}},
		{"count change refreshes article totals", Deleted(ResourceInventoryCount, uuid.New()), []CacheKey{KeyInventoryCounts, KeyArticles}},
		{"import follows its resource", Imported(ResourceArticle, nil, 0), []CacheKey{KeyArticles, KeyInventoryCounts, KeyOrderLines}},
		{"clear spares users", Cleared(), []CacheKey{KeyArticles, KeyOrderLines, KeyInventoryCounts}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, KeysForEvent(tt.ev))
		})
	}
}

func TestKeysForUnknownResource(t *testing.T) {
	assert.Nil(t, KeysFor(Resource("pallet")))
}
