// Package axon is a zero-configuration peer-to-peer messaging library.
// Processes on a LAN create a named endpoint of one of five roles,
// announce their topic interests over UDP, discover peers automatically,
// and exchange structured messages over TCP using a typed framing
// protocol (see internal/wire). No central broker exists: every peer is
// simultaneously an announcer and a listener, and connectivity forms
// lazily between peers that share compatible topics.
//
// The package is modeled on the teacher's hub/subscription-manager/client
// split (internal/dmr/hub, client/client.go): Engine-equivalent state
// lives in internal/discovery and internal/transport, while Endpoint here
// plays the role of the teacher's Hub — the place role-specific lifecycle,
// filtering, and dispatch decisions are made.
package axon

import (
	"fmt"

	"github.com/USA-RedDragon/axon/internal/axonerr"
)

// Role is one of the five endpoint roles.
type Role string

const (
	RolePub Role = "pub"
	RoleSub Role = "sub"
	RoleReq Role = "req"
	RoleRep Role = "rep"
	RoleMon Role = "mon"
)

func (r Role) valid() bool {
	switch r {
	case RolePub, RoleSub, RoleReq, RoleRep, RoleMon:
		return true
	default:
		return false
	}
}

// axonType is the wire-level role name carried in advertisements (spec
// section 6), distinct from Role because MON has no transport and
// advertises no axon_type at all.
func (r Role) axonType() string {
	switch r {
	case RolePub:
		return "pub-emitter"
	case RoleSub:
		return "sub-emitter"
	case RoleReq:
		return "req"
	case RoleRep:
		return "rep"
	default:
		return ""
	}
}

// State is the endpoint lifecycle state (spec section 4.4).
type State int

const (
	StateNew State = iota
	StateConfigured
	StateBound
	StateRunning
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConfigured:
		return "configured"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Create constructs a new endpoint of the given role and name in state
// New. Call SetOption as needed, then Start.
func Create(role Role, name string) (*Endpoint, error) {
	if !role.valid() {
		return nil, axonerr.New(axonerr.InvalidArgument, "Create", fmt.Errorf("unknown role %q", role))
	}
	if name == "" {
		return nil, axonerr.New(axonerr.InvalidArgument, "Create", fmt.Errorf("name is required"))
	}
	return newEndpoint(role, name), nil
}
