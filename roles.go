package axon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/discovery"
	"github.com/USA-RedDragon/axon/internal/wire"
)

// handleNodeAdded is discovery's OnAdded callback. Every role's "added"
// event fires unconditionally (MON forwards it unfiltered per spec
// section 4.4); SUB/REQ additionally apply the discovery filter and dial
// out on a match.
func (e *Endpoint) handleNodeAdded(n *discovery.Node) {
	e.emitAdded(n.IID, n.Advertisement)

	switch e.role {
	case RoleSub, RoleReq:
		if !e.matchesAdvertisement(n.Advertisement) {
			return
		}
		addr := peerAddr(n)
		if addr == "" {
			return
		}
		var err error
		if e.role == RoleSub {
			err = e.subT.Dial(addr)
		} else {
			err = e.reqT.Dial(addr)
		}
		if err != nil {
			e.emitError(err)
		}
	}
}

// handleNodeRemoved is discovery's OnRemoved callback.
func (e *Endpoint) handleNodeRemoved(n *discovery.Node) {
	e.emitRemoved(n.IID, n.Advertisement)
}

// peerAddr extracts the host:port dial target from a discovered node's
// advertisement. JSON numbers decode to float64 in a map[string]any.
func peerAddr(n *discovery.Node) string {
	if n.Address == "" {
		return ""
	}
	portF, ok := n.Advertisement["port"].(float64)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", n.Address, int(portF))
}

// handleInboundMessage is the SUB transport's message callback: it peels
// the "message::[namespace::]" prefix, dispatches to matching
// subscriptions, and fires the generic message event (spec section 4.4).
func (e *Endpoint) handleInboundMessage(_ string, msg wire.Message) {
	if len(msg) == 0 {
		return
	}
	raw := msg[0].String()
	e.mu.Lock()
	ns := e.namespace
	e.mu.Unlock()

	prefix := "message::"
	if ns != "" {
		prefix = "message::" + ns + "::"
	}
	if !strings.HasPrefix(raw, prefix) {
		return
	}
	topic := strings.TrimPrefix(raw, prefix)
	fields := msg[1:]
	e.subs.dispatch(topic, fields)
	e.emitMessage(topic, fields)
}

// handleInboundCall is the REP transport's RepHandler: the first field
// must be a JSON object carrying "type", which selects the subscription
// to dispatch to; that subscription's return value is written back as
// the reply (spec section 4.4).
func (e *Endpoint) handleInboundCall(msg wire.Message) wire.Message {
	if len(msg) == 0 {
		e.emitError(axonerr.New(axonerr.MalformedFrame, "handleInboundCall", fmt.Errorf("empty call frame")))
		return nil
	}
	var obj map[string]any
	if err := msg[0].Unmarshal(&obj); err != nil {
		e.emitError(err)
		return nil
	}
	topic, _ := obj["type"].(string)
	reply, ok := e.subs.dispatchReply(topic, msg)
	if !ok {
		return nil
	}
	e.emitMessage(topic, msg)
	return reply
}

// Subscribe registers fn to handle inbound messages/calls whose topic
// matches pattern (POSIX extended regex). Valid for SUB and REP only.
// Re-subscribing with an already-registered pattern replaces the
// callback (spec section 3).
func (e *Endpoint) Subscribe(pattern string, fn SubscribeFunc, ctx context.Context) error {
	if e.role != RoleSub && e.role != RoleRep {
		return axonerr.New(axonerr.InvalidState, "Subscribe", fmt.Errorf("subscribe is only valid for sub/rep endpoints"))
	}
	return e.subs.put(pattern, fn, ctx)
}

// Unsubscribe removes the subscription registered under pattern, if any.
func (e *Endpoint) Unsubscribe(pattern string) error {
	if e.role != RoleSub && e.role != RoleRep {
		return axonerr.New(axonerr.InvalidState, "Unsubscribe", fmt.Errorf("unsubscribe is only valid for sub/rep endpoints"))
	}
	e.subs.remove(pattern)
	return nil
}

// Send publishes fields under topic. Only valid for PUB endpoints in
// Running state; it prepends the "message::[namespace::]" routing token
// and fans out to every connected subscriber (spec section 4.4).
func (e *Endpoint) Send(topic string, fields ...wire.Field) error {
	e.mu.Lock()
	role, state, ns, pubT := e.role, e.state, e.namespace, e.pubT
	e.mu.Unlock()

	if role != RolePub {
		return axonerr.New(axonerr.InvalidState, "Send", fmt.Errorf("send(topic, fields...) is only valid for pub endpoints"))
	}
	if state != StateRunning {
		return axonerr.New(axonerr.InvalidState, "Send", fmt.Errorf("endpoint is not running"))
	}

	token := "message::" + topic
	if ns != "" {
		token = "message::" + ns + "::" + topic
	}
	msg := make(wire.Message, 0, len(fields)+1)
	msg = append(msg, wire.StringField(token))
	msg = append(msg, fields...)
	pubT.Send(msg)
	return nil
}

// Call makes a request/reply round trip. Only valid for REQ endpoints in
// Running state. payload is marshaled to a JSON object and augmented
// with "type": topic before being sent to the round-robin-selected
// connection (spec section 4.4's "send(topic, jsonFields, timeout)",
// renamed here since Go has no method overloading and PUB already uses
// Send for its own, differently-shaped operation).
func (e *Endpoint) Call(topic string, payload any, timeout time.Duration) (wire.Message, error) {
	e.mu.Lock()
	role, state, reqT := e.role, e.state, e.reqT
	e.mu.Unlock()

	if role != RoleReq {
		return nil, axonerr.New(axonerr.InvalidState, "Call", fmt.Errorf("call is only valid for req endpoints"))
	}
	if state != StateRunning {
		return nil, axonerr.New(axonerr.InvalidState, "Call", fmt.Errorf("endpoint is not running"))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, axonerr.New(axonerr.InvalidArgument, "Call", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, axonerr.New(axonerr.InvalidArgument, "Call", fmt.Errorf("payload must be a JSON object: %w", err))
	}
	obj["type"] = topic

	field, err := wire.JSONField(obj)
	if err != nil {
		return nil, err
	}
	return reqT.Send(wire.Message{field}, timeout)
}
