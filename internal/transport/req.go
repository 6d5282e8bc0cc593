package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/metrics"
	"github.com/USA-RedDragon/axon/internal/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// reqConn is one outbound REQ connection. At most one call is in flight on
// a given connection at a time (spec DESIGN.md open-question decision 2:
// the transport correlates a reply to a call by being the one outstanding
// call on that connection, FIFO, rather than inventing a request-id
// field).
type reqConn struct {
	*conn
	busy    bool
	pending chan wire.Message
}

// ReqTransport dials out to compatible rep peers and round-robins calls
// across the active connections (spec section 4.2).
type ReqTransport struct {
	mu      sync.Mutex
	conns   map[string]*reqConn
	order   []string
	cursor  int
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewReqTransport creates a ReqTransport.
func NewReqTransport(ctx context.Context) *ReqTransport {
	ctx, cancel := context.WithCancel(ctx)
	return &ReqTransport{
		conns:  make(map[string]*reqConn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connected reports whether an outbound connection to addr already exists.
func (r *ReqTransport) Connected(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[addr]
	return ok
}

// Dial opens an outbound connection to addr if one doesn't already exist.
func (r *ReqTransport) Dial(addr string) error {
	r.mu.Lock()
	if _, ok := r.conns[addr]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	nc, err := dial(addr)
	if err != nil {
		logConnError(RoleReq, "dial", addr, err)
		return err
	}

	c := &reqConn{conn: newConn(nc), pending: make(chan wire.Message, 1)}
	c.setState(Open)

	r.mu.Lock()
	if _, ok := r.conns[addr]; ok {
		r.mu.Unlock()
		_ = nc.Close()
		return nil
	}
	r.conns[addr] = c
	r.order = append(r.order, addr)
	r.mu.Unlock()

	metrics.TransportConnectionsOpen.WithLabelValues(string(RoleReq)).Inc()
	go r.readLoop(addr, c)
	return nil
}

func (r *ReqTransport) readLoop(addr string, c *reqConn) {
	defer r.drop(addr, c)
	for {
		msg, err := wire.Decode(c.netConn)
		if err != nil {
			return
		}
		metrics.TransportMessagesReceived.WithLabelValues(string(RoleReq)).Inc()
		select {
		case c.pending <- msg:
		default:
			// A reply is already buffered and unread; discard this one. A
			// late reply that lands in the empty buffer after its call
			// timed out is discarded by the next Send on this connection.
		}
	}
}

func (r *ReqTransport) drop(addr string, c *reqConn) {
	c.close()
	r.mu.Lock()
	if r.conns[addr] == c {
		delete(r.conns, addr)
		for i, a := range r.order {
			if a == addr {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		if r.cursor > len(r.order) {
			r.cursor = 0
		}
	}
	r.mu.Unlock()
	metrics.TransportConnectionsOpen.WithLabelValues(string(RoleReq)).Dec()
}

// next returns the next available (not busy) connection in round-robin
// order, marking it busy, or nil if every connection is busy or there are
// none.
func (r *ReqTransport) next() (string, *reqConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		addr := r.order[idx]
		c := r.conns[addr]
		if c != nil && !c.busy && c.getState() == Open {
			c.busy = true
			r.cursor = (idx + 1) % n
			return addr, c
		}
	}
	return "", nil
}

func (r *ReqTransport) release(addr string, c *reqConn) {
	r.mu.Lock()
	if cur, ok := r.conns[addr]; ok && cur == c {
		c.busy = false
	}
	r.mu.Unlock()
}

// Send writes msg to the next round-robin connection and awaits a reply
// within timeout. If no connection is available, it waits out the
// timeout and returns a Timeout error, matching spec scenario 4.
func (r *ReqTransport) Send(msg wire.Message, timeout time.Duration) (wire.Message, error) {
	ctx, span := tracer.Start(r.ctx, "transport.req.Send")
	defer span.End()

	addr, c := r.next()
	if c == nil {
		err := axonerr.New(axonerr.Timeout, "transport.Send", fmt.Errorf("no active rep connection"))
		select {
		case <-time.After(timeout):
			return nil, failSpan(span, err)
		case <-ctx.Done():
			return nil, axonerr.New(axonerr.Cancelled, "transport.Send", ctx.Err())
		}
	}
	defer r.release(addr, c)
	span.SetAttributes(attribute.String("axon.peer.addr", addr))

	// Drop a late reply to an earlier, already-timed-out call.
	select {
	case <-c.pending:
	default:
	}

	if err := msg.Encode(c.netConn); err != nil {
		logConnError(RoleReq, "send", addr, err)
		return nil, failSpan(span, err)
	}
	metrics.TransportMessagesSent.WithLabelValues(string(RoleReq)).Inc()

	select {
	case reply := <-c.pending:
		return reply, nil
	case <-time.After(timeout):
		err := axonerr.New(axonerr.Timeout, "transport.Send", fmt.Errorf("no reply from %s within %s", addr, timeout))
		return nil, failSpan(span, err)
	case <-ctx.Done():
		return nil, axonerr.New(axonerr.Cancelled, "transport.Send", ctx.Err())
	}
}

// failSpan records err on span and returns it unchanged, so a Send
// failure is visible to anything tracing the call without duplicating
// the record-then-return at each call site.
func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	return err
}

// Close tears down every outbound connection and cancels any waiting
// Send calls with a Cancelled error (via ctx.Done()).
func (r *ReqTransport) Close() {
	r.cancel()
	r.mu.Lock()
	for _, c := range r.conns {
		c.close()
	}
	r.conns = make(map[string]*reqConn)
	r.order = nil
	r.mu.Unlock()
}
