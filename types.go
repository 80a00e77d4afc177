package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/eventbus/payload"
	"github.com/rbaliyan/eventbus/registry"
	"go.opentelemetry.io/otel/trace"
)

// Wildcard is the field value that matches anything on the subscriber side.
const Wildcard uint8 = 0

// EventType identifies what an event is about: a group (e.g. "wifi") and a
// kind within the group (e.g. "connected").
//
// Zero in either field is a wildcard. Subscribers may use wildcards;
// published events must name a concrete group and kind.
type EventType struct {
	Group uint8
	Kind  uint8
}

// Type is shorthand for EventType{Group: group, Kind: kind}.
func Type(group, kind uint8) EventType {
	return EventType{Group: group, Kind: kind}
}

// AllEvents matches every event.
var AllEvents = EventType{}

// AnyKind returns a subscriber type matching every kind of group.
func AnyKind(group uint8) EventType {
	return EventType{Group: group}
}

// Valid reports whether t can be published, i.e. neither field is a wildcard.
func (t EventType) Valid() bool {
	return t.Group != Wildcard && t.Kind != Wildcard
}

// Matches reports whether a subscriber registered for t receives an event of
// type ev. Wildcards only apply on the subscriber side.
func (t EventType) Matches(ev EventType) bool {
	if t.Group == Wildcard {
		return true
	}
	return t.Group == ev.Group && (t.Kind == ev.Kind || t.Kind == Wildcard)
}

// String returns "group.kind" with "*" for wildcards.
func (t EventType) String() string {
	field := func(v uint8) string {
		if v == Wildcard {
			return "*"
		}
		return fmt.Sprintf("%d", v)
	}
	return field(t.Group) + "." + field(t.Kind)
}

// Event is one published occurrence. It is copied by value into the queue.
type Event struct {
	// ID is unique per published event.
	ID string
	// Type is the concrete type the event was published with.
	Type EventType
	// Input is the event data. Handlers must not keep it past their return.
	Input payload.Input
	// Result is where handlers write their answer.
	Result payload.Result
	// PublishedAt is when Publish accepted the event.
	PublishedAt time.Time

	spanCtx trace.SpanContext
}

// Handler processes a dispatched event. state is the value given at
// subscription time; the bus never inspects or frees it.
//
// Handlers run one at a time on the dispatch goroutine and may publish,
// subscribe and unsubscribe (including themselves) from within.
type Handler func(ctx context.Context, ev Event, state any) error

// Handle identifies a subscription. It stays valid until the subscription is
// removed; a handle of a removed subscription is never reused.
type Handle = registry.Handle

// State is the lifecycle state of a bus.
type State int32

const (
	// StateNotStarted is the state of a bus whose worker has not been started.
	StateNotStarted State = iota
	// StateWorking means the worker is dispatching events.
	StateWorking
	// StateStopping means Stop was requested and the worker is draining.
	StateStopping
	// StateStopped is terminal.
	StateStopped
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateWorking:
		return "working"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// SubscriberInfo describes a registration, as returned by Bus.Subscribers.
type SubscriberInfo struct {
	Handle   Handle
	Name     string
	Type     EventType
	Priority uint8
}

// subscriber is the value stored in a registry slot.
type subscriber struct {
	name    string
	handler Handler
	state   any
}
