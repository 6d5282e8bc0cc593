package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/metrics"
	"github.com/USA-RedDragon/axon/internal/wire"
	"golang.org/x/sync/errgroup"
)

// PubEmitter owns a TCP listener for a Publisher endpoint. Accepted sockets
// each get a broadcast slot; inbound frames on them are dropped since pub
// is outbound-only (spec section 4.2).
type PubEmitter struct {
	listener net.Listener
	slots    *connSet
	group    *errgroup.Group
	cancel   context.CancelFunc
}

// ListenPub binds a TCP listener on port 0 (OS-assigned) and returns a
// PubEmitter along with the assigned port.
func ListenPub(ctx context.Context) (*PubEmitter, int, error) {
	lis, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, axonerr.New(axonerr.NetworkError, "transport.ListenPub", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &PubEmitter{
		listener: lis,
		slots:    newConnSet(),
		group:    g,
		cancel:   cancel,
	}
	g.Go(func() error {
		p.acceptLoop(gctx)
		return nil
	})
	port := lis.Addr().(*net.TCPAddr).Port
	return p, port, nil
}

func (p *PubEmitter) acceptLoop(ctx context.Context) {
	for {
		nc, err := p.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logConnError(RolePubEmitter, "accept", "", err)
			return
		}
		c := newConn(nc)
		c.setState(Open)
		p.slots.tryAdd(c.addr, c)
		metrics.TransportConnectionsOpen.WithLabelValues(string(RolePubEmitter)).Inc()
		go p.drain(c)
	}
}

// drain discards every inbound frame on an accepted socket; pub never
// reads application data from its subscribers, only detects disconnects.
func (p *PubEmitter) drain(c *conn) {
	defer func() {
		c.close()
		p.slots.remove(c.addr)
		metrics.TransportConnectionsOpen.WithLabelValues(string(RolePubEmitter)).Dec()
	}()
	for {
		if _, err := wire.Decode(c.netConn); err != nil {
			return
		}
	}
}

// Send fans msg out to every active accepted connection. Write failures
// close only the failing slot.
func (p *PubEmitter) Send(msg wire.Message) {
	var wg sync.WaitGroup
	for _, c := range p.slots.list() {
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			if c.getState() != Open {
				return
			}
			if err := msg.Encode(c.netConn); err != nil {
				logConnError(RolePubEmitter, "send", c.addr, err)
				c.close()
				p.slots.remove(c.addr)
				return
			}
			metrics.TransportMessagesSent.WithLabelValues(string(RolePubEmitter)).Inc()
		}(c)
	}
	wg.Wait()
}

// Close stops accepting connections and closes every active slot.
func (p *PubEmitter) Close() {
	p.cancel()
	_ = p.listener.Close()
	p.slots.closeAll()
	_ = p.group.Wait()
	slog.Debug("axon pub-emitter closed")
}
