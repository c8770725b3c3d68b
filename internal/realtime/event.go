// Package realtime fans committed changes out to every connected client so
// their query caches can be invalidated.
//
// Services publish exactly one Event per committed mutation. The Hub
// serializes it once and queues it on every registered Session; each session
// has a single writer goroutine, so events reach a session in the order they
// were broadcast. Delivery is best effort: there is no acknowledgement, retry
// or replay, and clients recover from gaps by refetching.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies what happened to a resource.
type Kind int

const (
	KindCreated Kind = iota + 1
	KindUpdated
	KindDeleted
	KindImported
	KindCleared
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindDeleted:
		return "deleted"
	case KindImported:
		return "imported"
	case KindCleared:
		return "cleared"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Resource names the record type an event is about.
type Resource string

const (
	ResourceUser           Resource = "user"
	ResourceArticle        Resource = "article"
	ResourceOrderLine      Resource = "order_line"
	ResourceInventoryCount Resource = "inventory_count"
)

// Resources lists every resource type. The invalidation mapping must cover
// all of them.
var Resources = []Resource{ResourceUser, ResourceArticle, ResourceOrderLine, ResourceInventoryCount}

func (r Resource) plural() string {
	return string(r) + "s"
}

const (
	actionInventoried = "inventoried"
	typeDataCleared   = "data_cleared"
)

// ErrUnknownType is returned when decoding a message whose type is not part
// of the event catalogue.
var ErrUnknownType = errors.New("unknown event type")

// DeletedData is the payload of a deletion: only the identifier survives.
type DeletedData struct {
	ID uuid.UUID `json:"id"`
}

// ImportedData is the payload of a bulk import.
type ImportedData struct {
	Count   int `json:"count"`
	Records any `json:"records"`
}

// Event describes one committed mutation. It is immutable; build it with the
// constructors below, which fix the payload shape for each kind.
type Event struct {
	kind     Kind
	resource Resource
	action   string
	data     any
}

// Created reports a new record. record is the stored state.
func Created(resource Resource, record any) Event {
	return Event{kind: KindCreated, resource: resource, action: KindCreated.String(), data: record}
}

// Updated reports the new state of a modified record.
func Updated(resource Resource, record any) Event {
	return Event{kind: KindUpdated, resource: resource, action: KindUpdated.String(), data: record}
}

// Inventoried reports an order line that was marked inventoried. It is an
// update with its own wire type so clients can react to it specifically.
func Inventoried(record any) Event {
	return Event{kind: KindUpdated, resource: ResourceOrderLine, action: actionInventoried, data: record}
}

// Deleted reports a removed record by identifier.
func Deleted(resource Resource, id uuid.UUID) Event {
	return Event{kind: KindDeleted, resource: resource, action: KindDeleted.String(), data: DeletedData{ID: id}}
}

// Imported reports a bulk import of count records.
func Imported(resource Resource, records any, count int) Event {
	return Event{kind: KindImported, resource: resource, action: KindImported.String(), data: ImportedData{Count: count, Records: records}}
}

// Cleared reports that all warehouse data was wiped. It carries no payload.
func Cleared() Event {
	return Event{kind: KindCleared, action: KindCleared.String()}
}

func (e Event) Kind() Kind { return e.kind }

// Resource is empty for KindCleared, which spans every data resource.
func (e Event) Resource() Resource { return e.resource }

// Data is the payload as constructed, or json.RawMessage for decoded events.
func (e Event) Data() any { return e.data }

// IsZero reports whether e was never constructed.
func (e Event) IsZero() bool { return e.kind == 0 }

// Type is the wire name, e.g. "article_created", "order_line_inventoried",
// "articles_imported" or "data_cleared".
func (e Event) Type() string {
	switch e.kind {
	case KindCleared:
		return typeDataCleared
	case KindImported:
		return e.resource.plural() + "_imported"
	default:
		return string(e.resource) + "_" + e.action
	}
}

type wireMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type wireMessageIn struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON renders the wire form {"type": ..., "data": ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return nil, errors.New("marshal zero event")
	}
	return json.Marshal(wireMessage{Type: e.Type(), Data: e.data})
}

// Decode parses a wire message. The payload is kept as json.RawMessage so a
// relayed event re-serializes byte-for-byte.
func Decode(raw []byte) (Event, error) {
	var msg wireMessageIn
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	kind, resource, action, err := parseType(msg.Type)
	if err != nil {
		return Event{}, err
	}
	ev := Event{kind: kind, resource: resource, action: action}
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		ev.data = msg.Data
	}
	return ev, nil
}

// ParseType maps a wire type back to its kind and resource. The resource is
// empty for "data_cleared".
func ParseType(t string) (Kind, Resource, error) {
	kind, resource, _, err := parseType(t)
	return kind, resource, err
}

type typeEntry struct {
	kind     Kind
	resource Resource
	action   string
}

var typeCatalogue = buildTypeCatalogue()

func buildTypeCatalogue() map[string]typeEntry {
	catalogue := map[string]typeEntry{
		typeDataCleared: {kind: KindCleared, action: KindCleared.String()},
		string(ResourceOrderLine) + "_" + actionInventoried: {
			kind: KindUpdated, resource: ResourceOrderLine, action: actionInventoried,
		},
	}
	for _, r := range Resources {
		for _, k := range []Kind{KindCreated, KindUpdated, KindDeleted} {
			catalogue[string(r)+"_"+k.String()] = typeEntry{kind: k, resource: r, action: k.String()}
		}
		catalogue[r.plural()+"_imported"] = typeEntry{kind: KindImported, resource: r, action: KindImported.String()}
	}
	return catalogue
}

func parseType(t string) (Kind, Resource, string, error) {
	entry, ok := typeCatalogue[t]
	if !ok {
		return 0, "", "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return entry.kind, entry.resource, entry.action, nil
}

//go:generate mockgen -destination=mocks/publisher.go -package=mocks lagerkoll/internal/realtime Publisher

// Publisher accepts committed change events. Publish never blocks on client
// delivery and never fails the caller: by the time it is called the mutation
// is already durable.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }
