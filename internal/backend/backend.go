// Package backend implements the polymorphic Backend adapter (spec.md
// section 4.3): one operation, send(session_id, user_message,
// is_new_session) -> Stream<BackendEvent>, with three selectable variants.
package backend

import (
	"context"

	"github.com/swarmgate/swarm/internal/wire"
)

// Event is the normalized backend event shape every variant emits. It is
// the wire.BackendEventWire struct directly: the backend package and the
// agent session that consumes it share the same representation, so no
// translation layer sits between "what the backend produced" and "what
// goes out over AgentResponse.event".
type Event = wire.BackendEventWire

// EventChanBuffer bounds how many events a variant may produce before the
// consumer must read one, giving the "suspend rather than drop" backpressure
// spec.md 4.3 requires a cheap default: a small buffer smooths bursts
// without letting a slow consumer fall far behind.
const EventChanBuffer = 8

// Backend is the interface every variant implements.
type Backend interface {
	// Send drives one turn of a conversation and streams its BackendEvents.
	// The returned channel is closed once a Done or Error event has been
	// sent; the caller must drain it to completion.
	Send(ctx context.Context, sessionID, userMessage string, isNewSession bool) (<-chan Event, error)
}

func newEventChan() chan Event {
	return make(chan Event, EventChanBuffer)
}

func doneEvent(fullResponse string) Event {
	return Event{Type: wire.EventDone, FullResponse: fullResponse}
}

func errorEvent(message string) Event {
	return Event{Type: wire.EventError, ErrorMessage: message}
}
