package transport

import (
	"context"
	"log/slog"

	"github.com/USA-RedDragon/axon/internal/metrics"
	"github.com/USA-RedDragon/axon/internal/wire"
)

// SubEmitter dials out to compatible pub-emitters. Each outbound
// connection runs a reader loop feeding decoded messages to onMessage;
// outbound writes are never used (spec section 4.2). Reconnection on
// remote close is not automatic — the next discovery `added` event
// re-establishes it (spec section 9, open question resolved as stated).
type SubEmitter struct {
	conns     *connSet
	ctx       context.Context
	cancel    context.CancelFunc
	onMessage func(peer string, msg wire.Message)
}

// NewSubEmitter creates a SubEmitter that delivers decoded messages to
// onMessage.
func NewSubEmitter(ctx context.Context, onMessage func(peer string, msg wire.Message)) *SubEmitter {
	ctx, cancel := context.WithCancel(ctx)
	return &SubEmitter{
		conns:     newConnSet(),
		ctx:       ctx,
		cancel:    cancel,
		onMessage: onMessage,
	}
}

// Connected reports whether an outbound connection to addr already exists.
func (s *SubEmitter) Connected(addr string) bool {
	return s.conns.has(addr)
}

// Dial opens an outbound connection to addr if one doesn't already exist.
// It is a no-op (not an error) if addr is already connected, preserving
// the "at most one connection per peer" invariant.
func (s *SubEmitter) Dial(addr string) error {
	if s.conns.has(addr) {
		return nil
	}
	nc, err := dial(addr)
	if err != nil {
		logConnError(RoleSubEmitter, "dial", addr, err)
		return err
	}
	c := newConn(nc)
	if !s.conns.tryAdd(addr, c) {
		_ = nc.Close()
		return nil
	}
	c.setState(Open)
	metrics.TransportConnectionsOpen.WithLabelValues(string(RoleSubEmitter)).Inc()
	go s.readLoop(c)
	return nil
}

func (s *SubEmitter) readLoop(c *conn) {
	defer func() {
		c.close()
		s.conns.remove(c.addr)
		metrics.TransportConnectionsOpen.WithLabelValues(string(RoleSubEmitter)).Dec()
	}()
	for {
		msg, err := wire.Decode(c.netConn)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if err.Error() != "" {
				slog.Debug("axon sub-emitter connection closed", "peer", c.addr, "error", err)
			}
			return
		}
		metrics.TransportMessagesReceived.WithLabelValues(string(RoleSubEmitter)).Inc()
		s.onMessage(c.addr, msg)
	}
}

// Close tears down every outbound connection.
func (s *SubEmitter) Close() {
	s.cancel()
	s.conns.closeAll()
}
