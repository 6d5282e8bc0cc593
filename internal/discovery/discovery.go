// Package discovery implements the zero-configuration UDP peer discovery
// engine described in spec sections 5-7: periodic beaconing, a node table
// keyed by instance id, liveness expiry, and master election. It is
// shaped after the teacher's internal/dmr/netscheduler package (a
// gocron-driven periodic task owner with its own lifecycle) and the
// peer-liveness bookkeeping in internal/dmr/hub/hub.go, generalized from
// DMR repeater sessions to discovery peers.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/metrics"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("axon/discovery")

// Engine runs the beacon/listen/check loop for a single local endpoint.
// Each endpoint owns exactly one Engine; none is shared across endpoints
// in the same process (spec section 9: "Global discovery singleton
// inside each endpoint -> the endpoint exclusively owns its discovery;
// no process-wide state exists").
type Engine struct {
	cfg  Config
	iid  string

	advertisement func() map[string]any

	conn *net.UDPConn

	table      *table
	selfWeight int
	isMaster   bool

	scheduler gocron.Scheduler
	group     *errgroup.Group
	cancel    context.CancelFunc

	mu        sync.Mutex
	listeners listeners
}

// New creates a discovery Engine. advertisement is called fresh on every
// beacon tick so callers can mutate their advertised state between beacons
// without re-registering.
func New(cfg Config, advertisement func() map[string]any) (*Engine, error) {
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = DefaultHelloInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = DefaultNodeTimeout
	}
	if cfg.MasterTimeout <= 0 {
		cfg.MasterTimeout = DefaultMasterTimeout
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.Broadcast == "" && cfg.Multicast == "" && len(cfg.Unicast) == 0 {
		cfg.Broadcast = DefaultBroadcastAddr
	}
	if cfg.MulticastTTL <= 0 {
		cfg.MulticastTTL = DefaultMulticastTTL
	}
	if cfg.MastersRequired <= 0 {
		cfg.MastersRequired = DefaultMastersRequired
	}
	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}

	iid := uuid.NewString()
	if cfg.IgnoreInstance {
		iid = cfg.Hostname
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, axonerr.New(axonerr.InvalidState, "discovery.New", err)
	}

	return &Engine{
		cfg:           cfg,
		iid:           iid,
		advertisement: advertisement,
		table:         newTable(),
		selfWeight:    cfg.Weight,
		scheduler:     scheduler,
	}, nil
}

// IID returns this process's discovery instance id.
func (e *Engine) IID() string { return e.iid }

// Nodes returns a snapshot of every currently-live peer.
func (e *Engine) Nodes() []*Node { return e.table.list() }

// IsMaster reports whether this instance currently holds mastership.
func (e *Engine) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isMaster
}

// OnAdded registers a callback invoked when a new peer is first seen.
func (e *Engine) OnAdded(fn func(*Node)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.added = append(e.listeners.added, fn)
}

// OnRemoved registers a callback invoked when a peer times out.
func (e *Engine) OnRemoved(fn func(*Node)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.removed = append(e.listeners.removed, fn)
}

// OnChanged registers a callback invoked when a peer's advertisement
// payload changes (detected via a structural hash, spec section 6).
func (e *Engine) OnChanged(fn func(*Node)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.changed = append(e.listeners.changed, fn)
}

// OnMaster registers a callback invoked whenever the locally-computed
// master set changes.
func (e *Engine) OnMaster(fn func(*Node)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.master = append(e.listeners.master, fn)
}

// OnError registers a callback invoked on non-fatal discovery errors
// (malformed datagrams are NOT reported here; spec section 7 requires
// those to be silently dropped).
func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners.errored = append(e.listeners.errored, fn)
}

// Start binds the UDP socket and begins beaconing, listening, and
// liveness checks. It returns once the socket is bound; the periodic
// work runs in background goroutines owned by Engine until Stop is
// called.
func (e *Engine) Start(ctx context.Context) error {
	addr := &net.UDPAddr{Port: e.cfg.Port}
	if e.cfg.Address != "" {
		addr.IP = net.ParseIP(e.cfg.Address)
	}
	conn, err := listenUDP(ctx, addr, e.cfg.ReuseAddr)
	if err != nil {
		return axonerr.New(axonerr.NetworkError, "discovery.Start", err)
	}
	if e.cfg.Broadcast != "" {
		if err := enableBroadcast(conn); err != nil {
			_ = conn.Close()
			return axonerr.New(axonerr.NetworkError, "discovery.Start", fmt.Errorf("enable broadcast: %w", err))
		}
	}
	if e.cfg.Multicast != "" {
		if err := joinMulticast(conn, e.cfg.Multicast, e.cfg.MulticastTTL); err != nil {
			_ = conn.Close()
			return axonerr.New(axonerr.NetworkError, "discovery.Start", err)
		}
	}
	e.conn = conn

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error {
		e.listenLoop(gctx)
		return nil
	})

	if _, err := e.scheduler.NewJob(
		gocron.DurationJob(e.cfg.HelloInterval),
		gocron.NewTask(func() { e.beacon() }),
		gocron.WithName("axon-discovery-hello"),
	); err != nil {
		_ = conn.Close()
		return axonerr.New(axonerr.InvalidState, "discovery.Start", err)
	}
	if _, err := e.scheduler.NewJob(
		gocron.DurationJob(e.cfg.CheckInterval),
		gocron.NewTask(func() { e.checkLiveness() }),
		gocron.WithName("axon-discovery-check"),
	); err != nil {
		_ = conn.Close()
		return axonerr.New(axonerr.InvalidState, "discovery.Start", err)
	}
	e.scheduler.Start()

	// Fire one beacon immediately so peers don't wait a full interval to
	// see a freshly-started instance.
	e.beacon()
	return nil
}

// Stop halts beaconing, the listen loop, and releases the socket.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	_ = e.scheduler.StopJobs()
	_ = e.scheduler.Shutdown()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	if e.group != nil {
		_ = e.group.Wait()
	}
}

func (e *Engine) beacon() {
	if e.cfg.Client {
		return
	}

	_, span := tracer.Start(context.Background(), "discovery.beacon")
	defer span.End()

	e.mu.Lock()
	isMaster := e.isMaster
	e.mu.Unlock()

	b := beacon{
		IID:           e.iid,
		Hostname:      e.cfg.Hostname,
		Address:       e.cfg.Address,
		Advertisement: e.advertisement(),
		IsMaster:      isMaster,
		Weight:        e.selfWeight,
	}
	data, err := b.marshal()
	if err != nil {
		e.emitError(err)
		return
	}

	targets := e.sendTargets()
	for _, addr := range targets {
		if _, err := e.conn.WriteToUDP(data, addr); err != nil {
			e.emitError(fmt.Errorf("send beacon to %s: %w", addr, err))
			continue
		}
	}
	metrics.DiscoveryBeaconsSent.Inc()
}

func (e *Engine) sendTargets() []*net.UDPAddr {
	port := e.cfg.Port
	if port == 0 && e.conn != nil {
		port = e.conn.LocalAddr().(*net.UDPAddr).Port
	}
	var out []*net.UDPAddr
	if e.cfg.Broadcast != "" {
		if ip := net.ParseIP(e.cfg.Broadcast); ip != nil {
			out = append(out, &net.UDPAddr{IP: ip, Port: port})
		}
	}
	if e.cfg.Multicast != "" {
		if ip := net.ParseIP(e.cfg.Multicast); ip != nil {
			out = append(out, &net.UDPAddr{IP: ip, Port: port})
		}
	}
	for _, u := range e.cfg.Unicast {
		if addr, err := net.ResolveUDPAddr("udp4", u); err == nil {
			out = append(out, addr)
		}
	}
	return out
}

func (e *Engine) listenLoop(ctx context.Context) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.emitError(fmt.Errorf("read beacon: %w", err))
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		e.handleDatagram(bytes.Clone(buf[:n]), src)
	}
}

func (e *Engine) handleDatagram(data []byte, src *net.UDPAddr) {
	b, err := parseBeacon(data)
	if err != nil {
		// Malformed datagrams are dropped silently, not reported
		// (spec section 7).
		return
	}
	if b.IID == e.iid {
		return
	}
	if e.cfg.IgnoreProcess && b.Hostname == e.cfg.Hostname && b.Address == e.cfg.Address {
		return
	}
	metrics.DiscoveryBeaconsReceived.Inc()

	addr := b.Address
	if addr == "" {
		addr = src.IP.String()
	}

	existing, found := e.table.get(b.IID)
	newHash, _ := hashstructure.Hash(b.Advertisement, hashstructure.FormatV2, nil)

	node := &Node{
		IID:           b.IID,
		Hostname:      b.Hostname,
		Address:       addr,
		Advertisement: b.Advertisement,
		IsMaster:      b.IsMaster,
		Weight:        b.Weight,
		lastSeen:      time.Now(),
		advHash:       newHash,
	}
	e.table.store(node)

	switch {
	case !found:
		e.emit(NodeAdded, node)
	case existing.advHash != newHash:
		e.emit(NodeChanged, node)
	}

	e.recomputeMaster()
}

// checkLiveness applies two independent rules (spec section 4.3): any
// node silent longer than nodeTimeout is removed outright; separately, a
// node still advertising isMaster=true that has been silent longer than
// masterTimeout has its master flag cleared and an election triggered,
// without being removed by that rule alone.
func (e *Engine) checkLiveness() {
	now := time.Now()
	var removed []*Node
	var demoted []*Node
	e.table.forEach(func(n *Node) bool {
		if now.Sub(n.lastSeen) > e.cfg.NodeTimeout {
			removed = append(removed, n)
			return true
		}
		if n.IsMaster && now.Sub(n.lastSeen) > e.cfg.MasterTimeout {
			demoted = append(demoted, n)
		}
		return true
	})
	for _, n := range removed {
		e.table.delete(n.IID)
		e.emit(NodeRemoved, n)
	}
	for _, n := range demoted {
		n.IsMaster = false
		e.table.store(n)
	}
	if len(removed) > 0 || len(demoted) > 0 {
		e.recomputeMaster()
	}
	metrics.DiscoveryNodesLive.Set(float64(len(e.table.list())))
}

func (e *Engine) recomputeMaster() {
	others := e.table.list()
	won := elect(e.iid, e.selfWeight, others, e.cfg.MastersRequired)

	e.mu.Lock()
	changed := won != e.isMaster
	e.isMaster = won
	e.mu.Unlock()

	if changed {
		self := &Node{IID: e.iid, Hostname: e.cfg.Hostname, Address: e.cfg.Address, Weight: e.selfWeight, IsMaster: won}
		e.emit(MasterChanged, self)
	}
}

func (e *Engine) emit(kind EventKind, n *Node) {
	e.mu.Lock()
	var fns []func(*Node)
	switch kind {
	case NodeAdded:
		fns = append(fns, e.listeners.added...)
	case NodeRemoved:
		fns = append(fns, e.listeners.removed...)
	case NodeChanged:
		fns = append(fns, e.listeners.changed...)
	case MasterChanged:
		fns = append(fns, e.listeners.master...)
	}
	e.mu.Unlock()

	metrics.DiscoveryEvents.WithLabelValues(kind.String()).Inc()
	for _, fn := range fns {
		fn(n)
	}
}

func (e *Engine) emitError(err error) {
	e.mu.Lock()
	fns := append([]func(error){}, e.listeners.errored...)
	e.mu.Unlock()

	metrics.DiscoveryEvents.WithLabelValues(DiscoveryError.String()).Inc()
	slog.Warn("axon discovery error", "error", err)
	for _, fn := range fns {
		fn(err)
	}
}
