// Package transport implements the AMP TCP transport: four concrete roles
// (pub-emitter, sub-emitter, req, rep), each wrapping one or more AMP
// streams, per spec section 4.2.
package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/metrics"
	"github.com/USA-RedDragon/axon/internal/wire"
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
)

// Role names the four AMP transport roles, used for axon_type in the
// discovery advertisement and for metrics labeling.
type Role string

const (
	RolePubEmitter Role = "pub-emitter"
	RoleSubEmitter Role = "sub-emitter"
	RoleReq        Role = "req"
	RoleRep        Role = "rep"
)

// State is a connection's position in its Opening -> Open -> Closing ->
// Closed lifecycle (spec section 4.2).
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// MessageHandler is invoked for every decoded inbound message. It returns
// nothing; rep connections use RepHandler, whose non-nil returned message
// is written back on the same socket.
type MessageHandler func(peer string, msg wire.Message)

// tracer is shared by every transport role; per spec DESIGN.md, no
// exporter is configured here — only an embedding application that calls
// otel.SetTracerProvider makes these spans go anywhere.
var tracer = otel.Tracer("axon/transport") //nolint:gochecknoglobals

// conn is the shared per-connection bookkeeping used by every role.
type conn struct {
	mu      sync.Mutex
	netConn net.Conn
	addr    string
	state   State
	cancel  context.CancelFunc
}

func newConn(nc net.Conn) *conn {
	return &conn{netConn: nc, addr: nc.RemoteAddr().String(), state: Opening}
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	nc := c.netConn
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if nc != nil {
		_ = nc.Close()
	}
}

// dial opens a TCP connection to addr. It never blocks longer than
// dialTimeout.
func dial(addr string) (net.Conn, error) {
	const dialTimeout = 5 * time.Second
	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, axonerr.New(axonerr.NetworkError, "transport.dial", err)
	}
	return nc, nil
}

// connSet is a registry of active connections keyed by peer address,
// enforcing spec's "at most one outbound connection per (address, port)"
// invariant via LoadOrStore.
type connSet struct {
	conns *xsync.Map[string, *conn]
}

func newConnSet() *connSet {
	return &connSet{conns: xsync.NewMap[string, *conn]()}
}

func (s *connSet) tryAdd(addr string, c *conn) bool {
	_, loaded := s.conns.LoadOrStore(addr, c)
	return !loaded
}

func (s *connSet) remove(addr string) {
	s.conns.Delete(addr)
}

func (s *connSet) has(addr string) bool {
	_, ok := s.conns.Load(addr)
	return ok
}

func (s *connSet) list() []*conn {
	out := make([]*conn, 0, s.conns.Size())
	s.conns.Range(func(_ string, c *conn) bool {
		out = append(out, c)
		return true
	})
	return out
}

func (s *connSet) closeAll() {
	s.conns.Range(func(addr string, c *conn) bool {
		c.close()
		s.conns.Delete(addr)
		return true
	})
}

func logConnError(role Role, op string, addr string, err error) {
	metrics.TransportErrors.WithLabelValues(string(role)).Inc()
	slog.Warn("axon transport error", "role", role, "op", op, "addr", addr, "error", err)
}
