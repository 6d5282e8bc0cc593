package axon

import (
	"context"
	"fmt"
	"sync"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/discovery"
	"github.com/USA-RedDragon/axon/internal/transport"
)

// Endpoint is a bound, named peer of one role. It owns exactly one
// discovery instance and, for non-MON roles, exactly one transport
// instance (spec section 3). It plays the role the teacher's Hub plays
// for a DMR repeater session, generalized to the five axon roles.
type Endpoint struct {
	mu    sync.Mutex
	role  Role
	name  string
	state State

	namespace    string
	useHostNames bool
	key          string

	extraAdvertisement map[string]any
	broadcasts         []string
	subscribesTo       []string
	requests           []string
	respondsTo         []string

	discoveryCfg discovery.Config
	disc         *discovery.Engine
	port         int

	pubT *transport.PubEmitter
	subT *transport.SubEmitter
	reqT *transport.ReqTransport
	repT *transport.RepTransport

	subs   *subscriptionList
	events *eventTable

	ctx    context.Context
	cancel context.CancelFunc
}

func newEndpoint(role Role, name string) *Endpoint {
	return &Endpoint{
		role:               role,
		name:               name,
		state:              StateNew,
		key:                discovery.DefaultKey,
		extraAdvertisement: make(map[string]any),
		discoveryCfg:       discovery.DefaultConfig(),
		subs:               newSubscriptionList(),
		events:             newEventTable(),
	}
}

// Name returns the endpoint's configured name.
func (e *Endpoint) Name() string { return e.name }

// Role returns the endpoint's role.
func (e *Endpoint) Role() Role { return e.role }

// State returns the current lifecycle state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Port returns the OS-assigned TCP listener port for PUB/REP endpoints,
// or 0 before binding or for other roles.
func (e *Endpoint) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// composeAdvertisement builds the beacon advertisement payload (spec
// section 3's invariant and section 6's field list). Called fresh on
// every beacon tick by discovery so advertised topic lists/extras stay
// current.
func (e *Endpoint) composeAdvertisement() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	adv := make(map[string]any, len(e.extraAdvertisement)+8)
	for k, v := range e.extraAdvertisement {
		adv[k] = v
	}

	adv["type"] = "service"
	if e.role == RoleMon {
		adv["type"] = "monitor"
	}
	adv["name"] = e.name
	adv["key"] = e.key
	if at := e.role.axonType(); at != "" {
		adv["axon_type"] = at
	}
	if e.namespace != "" {
		adv["namespace"] = e.namespace
	}
	if e.role == RolePub || e.role == RoleRep {
		adv["port"] = e.port
	}
	switch e.role {
	case RolePub:
		adv["broadcasts"] = e.broadcasts
	case RoleSub:
		adv["subscribesTo"] = e.subscribesTo
	case RoleReq:
		adv["requests"] = e.requests
	case RoleRep:
		adv["respondsTo"] = e.respondsTo
	}
	return adv
}

// Start transitions the endpoint from New/Configured to Bound (if
// applicable) then Running: it binds a TCP listener for PUB/REP, starts
// discovery, and wires the role's connection/dispatch behavior.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateReleased {
		e.mu.Unlock()
		return axonerr.New(axonerr.InvalidState, "Start", fmt.Errorf("endpoint released"))
	}
	if e.state == StateRunning {
		e.mu.Unlock()
		return axonerr.New(axonerr.InvalidState, "Start", fmt.Errorf("endpoint already running"))
	}
	if e.useHostNames && e.discoveryCfg.Address == "" {
		e.discoveryCfg.Address = e.discoveryCfg.Hostname
	}
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.ctx, e.cancel = ctx, cancel
	e.mu.Unlock()

	if err := e.bindTransport(ctx); err != nil {
		cancel()
		return err
	}

	disc, err := discovery.New(e.discoveryCfg, e.composeAdvertisement)
	if err != nil {
		cancel()
		e.closeTransport()
		return err
	}
	disc.OnAdded(func(n *discovery.Node) { e.handleNodeAdded(n) })
	disc.OnRemoved(func(n *discovery.Node) { e.handleNodeRemoved(n) })
	disc.OnError(func(err error) { e.emitError(err) })
	if err := disc.Start(ctx); err != nil {
		cancel()
		e.closeTransport()
		return err
	}

	e.mu.Lock()
	e.disc = disc
	e.state = StateRunning
	e.mu.Unlock()
	return nil
}

// bindTransport creates the role's transport instance. For PUB/REP this
// binds a TCP listener and records the assigned port (spec section 4.2,
// 4.4).
func (e *Endpoint) bindTransport(ctx context.Context) error {
	switch e.role {
	case RolePub:
		pub, port, err := transport.ListenPub(ctx)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.pubT, e.port, e.state = pub, port, StateBound
		e.mu.Unlock()
	case RoleSub:
		e.subT = transport.NewSubEmitter(ctx, e.handleInboundMessage)
	case RoleReq:
		e.reqT = transport.NewReqTransport(ctx)
	case RoleRep:
		rep, port, err := transport.ListenRep(ctx, e.handleInboundCall)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.repT, e.port, e.state = rep, port, StateBound
		e.mu.Unlock()
	case RoleMon:
		// No transport: discovery events only.
	}
	return nil
}

func (e *Endpoint) closeTransport() {
	switch e.role {
	case RolePub:
		if e.pubT != nil {
			e.pubT.Close()
		}
	case RoleSub:
		if e.subT != nil {
			e.subT.Close()
		}
	case RoleReq:
		if e.reqT != nil {
			e.reqT.Close()
		}
	case RoleRep:
		if e.repT != nil {
			e.repT.Close()
		}
	}
}

// Release stops discovery, closes every connection, and drains pending
// REQ waiters with Cancelled. It is idempotent: calling it twice is a
// no-op on the second call (spec section 8).
func (e *Endpoint) Release() error {
	e.mu.Lock()
	if e.state == StateReleased {
		e.mu.Unlock()
		return nil
	}
	e.state = StateReleased
	cancel := e.cancel
	disc := e.disc
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if disc != nil {
		disc.Stop()
	}
	e.closeTransport()
	return nil
}
