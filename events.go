package axon

import (
	"context"
	"fmt"
	"sync"

	"github.com/USA-RedDragon/axon/internal/axonerr"
)

// Event names accepted by On (spec section 4.5).
type Event string

const (
	EventAdded   Event = "added"
	EventRemoved Event = "removed"
	EventMessage Event = "message"
	EventError   Event = "error"
)

// NodeEventFunc handles an added/removed discovery event.
type NodeEventFunc func(ctx context.Context, iid string, advertisement map[string]any)

// MessageEventFunc handles every decoded inbound message, independent of
// subscription matching.
type MessageEventFunc func(ctx context.Context, topic string, fields any)

// ErrorEventFunc handles an asynchronous, non-fatal error (spec section
// 7: "asynchronous errors raised by background tasks surface through the
// error event... they never crash the endpoint").
type ErrorEventFunc func(ctx context.Context, err error)

// eventTable holds at most one callback per event name — "last
// registration wins per event name" (spec section 9). Each event keeps
// its own context, since On(event, fn, ctx) registers ctx alongside fn
// for that one event, not for every event on the endpoint.
type eventTable struct {
	mu sync.Mutex

	added    NodeEventFunc
	addedCtx context.Context

	removed    NodeEventFunc
	removedCtx context.Context

	message    MessageEventFunc
	messageCtx context.Context

	errored    ErrorEventFunc
	erroredCtx context.Context
}

func newEventTable() *eventTable {
	return &eventTable{
		addedCtx:   context.Background(),
		removedCtx: context.Background(),
		messageCtx: context.Background(),
		erroredCtx: context.Background(),
	}
}

// On registers fn as the handler for event, replacing any prior
// registration for that event name. ctx is passed to every invocation of
// fn; a nil ctx is treated as context.Background().
func (e *Endpoint) On(event Event, fn any, ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.events.mu.Lock()
	defer e.events.mu.Unlock()

	switch event {
	case EventAdded:
		f, ok := fn.(NodeEventFunc)
		if !ok {
			return axonerr.New(axonerr.InvalidArgument, "On", fmt.Errorf("added handler must be NodeEventFunc"))
		}
		e.events.added = f
		e.events.addedCtx = ctx
	case EventRemoved:
		f, ok := fn.(NodeEventFunc)
		if !ok {
			return axonerr.New(axonerr.InvalidArgument, "On", fmt.Errorf("removed handler must be NodeEventFunc"))
		}
		e.events.removed = f
		e.events.removedCtx = ctx
	case EventMessage:
		f, ok := fn.(MessageEventFunc)
		if !ok {
			return axonerr.New(axonerr.InvalidArgument, "On", fmt.Errorf("message handler must be MessageEventFunc"))
		}
		e.events.message = f
		e.events.messageCtx = ctx
	case EventError:
		f, ok := fn.(ErrorEventFunc)
		if !ok {
			return axonerr.New(axonerr.InvalidArgument, "On", fmt.Errorf("error handler must be ErrorEventFunc"))
		}
		e.events.errored = f
		e.events.erroredCtx = ctx
	default:
		return axonerr.New(axonerr.InvalidArgument, "On", fmt.Errorf("unknown event %q", event))
	}
	return nil
}

func (e *Endpoint) emitAdded(iid string, adv map[string]any) {
	e.events.mu.Lock()
	fn, ctx := e.events.added, e.events.addedCtx
	e.events.mu.Unlock()
	if fn != nil {
		fn(ctx, iid, adv)
	}
}

func (e *Endpoint) emitRemoved(iid string, adv map[string]any) {
	e.events.mu.Lock()
	fn, ctx := e.events.removed, e.events.removedCtx
	e.events.mu.Unlock()
	if fn != nil {
		fn(ctx, iid, adv)
	}
}

func (e *Endpoint) emitMessage(topic string, fields any) {
	e.events.mu.Lock()
	fn, ctx := e.events.message, e.events.messageCtx
	e.events.mu.Unlock()
	if fn != nil {
		fn(ctx, topic, fields)
	}
}

func (e *Endpoint) emitError(err error) {
	e.events.mu.Lock()
	fn, ctx := e.events.errored, e.events.erroredCtx
	e.events.mu.Unlock()
	if fn != nil {
		fn(ctx, err)
	}
}
