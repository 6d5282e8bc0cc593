package transport

import (
	"context"
	"net"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/metrics"
	"github.com/USA-RedDragon/axon/internal/wire"
	"golang.org/x/sync/errgroup"
)

// RepHandler handles one inbound REQ message and returns the reply frame
// to write back on the same socket.
type RepHandler func(msg wire.Message) wire.Message

// RepTransport owns a TCP listener for a Replier endpoint. Each accepted
// socket runs a reader; every inbound message is dispatched to handler and
// the result written back on the same connection (spec section 4.2).
type RepTransport struct {
	listener net.Listener
	conns    *connSet
	group    *errgroup.Group
	cancel   context.CancelFunc
	handler  RepHandler
}

// ListenRep binds a TCP listener on port 0 and returns a RepTransport
// along with the assigned port. handler is invoked for every inbound
// message.
func ListenRep(ctx context.Context, handler RepHandler) (*RepTransport, int, error) {
	lis, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, axonerr.New(axonerr.NetworkError, "transport.ListenRep", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	r := &RepTransport{
		listener: lis,
		conns:    newConnSet(),
		group:    g,
		cancel:   cancel,
		handler:  handler,
	}
	g.Go(func() error {
		r.acceptLoop(gctx)
		return nil
	})
	port := lis.Addr().(*net.TCPAddr).Port
	return r, port, nil
}

func (r *RepTransport) acceptLoop(ctx context.Context) {
	for {
		nc, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logConnError(RoleRep, "accept", "", err)
			return
		}
		c := newConn(nc)
		c.setState(Open)
		r.conns.tryAdd(c.addr, c)
		metrics.TransportConnectionsOpen.WithLabelValues(string(RoleRep)).Inc()
		go r.serve(c)
	}
}

func (r *RepTransport) serve(c *conn) {
	defer func() {
		c.close()
		r.conns.remove(c.addr)
		metrics.TransportConnectionsOpen.WithLabelValues(string(RoleRep)).Dec()
	}()
	for {
		msg, err := wire.Decode(c.netConn)
		if err != nil {
			return
		}
		metrics.TransportMessagesReceived.WithLabelValues(string(RoleRep)).Inc()

		reply := r.handler(msg)
		if reply == nil {
			continue
		}
		if err := reply.Encode(c.netConn); err != nil {
			logConnError(RoleRep, "reply", c.addr, err)
			return
		}
		metrics.TransportMessagesSent.WithLabelValues(string(RoleRep)).Inc()
	}
}

// Close stops accepting connections and closes every active socket.
func (r *RepTransport) Close() {
	r.cancel()
	_ = r.listener.Close()
	r.conns.closeAll()
	_ = r.group.Wait()
}
