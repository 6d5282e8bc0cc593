package axon_test

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	axon "github.com/USA-RedDragon/axon"
	"github.com/USA-RedDragon/axon/internal/wire"
	"github.com/stretchr/testify/require"
)

var nextPort int64 = 41900

func allocPort() int {
	return int(atomic.AddInt64(&nextPort, 1))
}

// fastDiscovery wires two compatible endpoints to discover each other
// quickly over unicast, the way internal/discovery's own tests do, so
// the scenarios below run in milliseconds rather than the spec's
// default multi-second intervals.
func fastDiscovery(t *testing.T, e *axon.Endpoint, port int, peers ...int) {
	t.Helper()
	require.NoError(t, e.SetOption("port", port))
	require.NoError(t, e.SetOption("helloInterval", 30*time.Millisecond))
	require.NoError(t, e.SetOption("checkInterval", 30*time.Millisecond))
	require.NoError(t, e.SetOption("nodeTimeout", 150*time.Millisecond))
	require.NoError(t, e.SetOption("masterTimeout", 150*time.Millisecond))
	if len(peers) > 0 {
		addrs := make([]string, len(peers))
		for i, p := range peers {
			addrs[i] = "127.0.0.1:" + strconv.Itoa(p)
		}
		require.NoError(t, e.SetOption("unicast", addrs))
	}
}

func TestPubSubLoopback(t *testing.T) {
	t.Parallel()

	pubPort, subPort := allocPort(), allocPort()

	pub, err := axon.Create(axon.RolePub, "pub1")
	require.NoError(t, err)
	require.NoError(t, pub.SetOption("broadcasts", []string{"hello"}))
	fastDiscovery(t, pub, pubPort, subPort)

	sub, err := axon.Create(axon.RoleSub, "sub1")
	require.NoError(t, err)
	require.NoError(t, sub.SetOption("subscribesTo", []string{"hello"}))
	fastDiscovery(t, sub, subPort, pubPort)

	received := make(chan wire.Message, 4)
	require.NoError(t, sub.Subscribe("hello", func(_ context.Context, topic string, fields wire.Message) wire.Message {
		received <- fields
		return nil
	}, nil))

	require.NoError(t, pub.Start(context.Background()))
	defer pub.Release()
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Release()

	// Send succeeds even before the subscriber has connected (the message
	// then reaches nobody), so keep publishing until one arrives.
	require.Eventually(t, func() bool {
		if len(received) > 0 {
			return true
		}
		_ = pub.Send("hello", wire.BlobField([]byte{0x01, 0x02, 0x03}))
		return false
	}, time.Second, 10*time.Millisecond)

	select {
	case fields := <-received:
		require.Len(t, fields, 1)
		require.Equal(t, []byte{0x01, 0x02, 0x03}, fields[0].Bytes())
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the message")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	t.Parallel()

	pubPort, subPort := allocPort(), allocPort()

	pub, err := axon.Create(axon.RolePub, "pub2")
	require.NoError(t, err)
	require.NoError(t, pub.SetOption("namespace", "ns1"))
	require.NoError(t, pub.SetOption("broadcasts", []string{"hello"}))
	fastDiscovery(t, pub, pubPort, subPort)

	sub, err := axon.Create(axon.RoleSub, "sub2")
	require.NoError(t, err)
	require.NoError(t, sub.SetOption("namespace", "ns2"))
	require.NoError(t, sub.SetOption("subscribesTo", []string{"hello"}))
	fastDiscovery(t, sub, subPort, pubPort)

	received := make(chan wire.Message, 4)
	require.NoError(t, sub.Subscribe("hello", func(_ context.Context, _ string, fields wire.Message) wire.Message {
		received <- fields
		return nil
	}, nil))

	require.NoError(t, pub.Start(context.Background()))
	defer pub.Release()
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Release()

	select {
	case <-received:
		t.Fatal("subscriber in a different namespace should not have connected")
	case <-time.After(300 * time.Millisecond):
		// expected: no connection, no delivery
	}
}

func TestReqRepRoundTrip(t *testing.T) {
	t.Parallel()

	reqPort, repPort := allocPort(), allocPort()

	rep, err := axon.Create(axon.RoleRep, "rep1")
	require.NoError(t, err)
	require.NoError(t, rep.SetOption("respondsTo", []string{"hello"}))
	fastDiscovery(t, rep, repPort, reqPort)
	require.NoError(t, rep.Subscribe("hello", func(_ context.Context, topic string, fields wire.Message) wire.Message {
		var obj map[string]any
		require.NoError(t, fields[0].Unmarshal(&obj))
		require.Equal(t, "hello", obj["type"])
		require.Equal(t, "hi", obj["payload"])
		field, err := wire.JSONField(map[string]any{"goodbye": "world"})
		require.NoError(t, err)
		return axon.Reply(field)
	}, nil))

	req, err := axon.Create(axon.RoleReq, "req1")
	require.NoError(t, err)
	require.NoError(t, req.SetOption("requests", []string{"hello"}))
	fastDiscovery(t, req, reqPort, repPort)

	require.NoError(t, rep.Start(context.Background()))
	defer rep.Release()
	require.NoError(t, req.Start(context.Background()))
	defer req.Release()

	var reply wire.Message
	require.Eventually(t, func() bool {
		var callErr error
		reply, callErr = req.Call("hello", map[string]string{"payload": "hi"}, 500*time.Millisecond)
		return callErr == nil
	}, 3*time.Second, 20*time.Millisecond)

	require.Len(t, reply, 1)
	var decoded map[string]string
	require.NoError(t, reply[0].Unmarshal(&decoded))
	require.Equal(t, "world", decoded["goodbye"])
}

func TestReqTimeoutWithNoPeer(t *testing.T) {
	t.Parallel()

	req, err := axon.Create(axon.RoleReq, "req2")
	require.NoError(t, err)
	require.NoError(t, req.SetOption("requests", []string{"hello"}))
	fastDiscovery(t, req, allocPort())
	require.NoError(t, req.Start(context.Background()))
	defer req.Release()

	start := time.Now()
	_, err = req.Call("hello", map[string]string{}, 500*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.True(t, axon.IsKind(err, axon.Timeout))
	require.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	require.Less(t, elapsed, 750*time.Millisecond)
}

func TestPeerRemoval(t *testing.T) {
	t.Parallel()

	pubPort, subPort := allocPort(), allocPort()

	pub, err := axon.Create(axon.RolePub, "pub3")
	require.NoError(t, err)
	require.NoError(t, pub.SetOption("broadcasts", []string{"hello"}))
	fastDiscovery(t, pub, pubPort, subPort)

	sub, err := axon.Create(axon.RoleSub, "sub3")
	require.NoError(t, err)
	require.NoError(t, sub.SetOption("subscribesTo", []string{"hello"}))
	fastDiscovery(t, sub, subPort, pubPort)

	added := make(chan string, 4)
	removed := make(chan string, 4)
	require.NoError(t, sub.On(axon.EventAdded, axon.NodeEventFunc(func(_ context.Context, iid string, _ map[string]any) {
		added <- iid
	}), nil))
	require.NoError(t, sub.On(axon.EventRemoved, axon.NodeEventFunc(func(_ context.Context, iid string, _ map[string]any) {
		removed <- iid
	}), nil))

	require.NoError(t, pub.Start(context.Background()))
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Release()

	var pubIID string
	select {
	case pubIID = <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw the publisher added")
	}

	require.NoError(t, pub.Release())

	select {
	case iid := <-removed:
		require.Equal(t, pubIID, iid)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw the publisher removed")
	}
}

func TestTopicRegex(t *testing.T) {
	t.Parallel()

	pubPort, subPort := allocPort(), allocPort()

	pub, err := axon.Create(axon.RolePub, "pub4")
	require.NoError(t, err)
	require.NoError(t, pub.SetOption("broadcasts", []string{"orders.*"}))
	fastDiscovery(t, pub, pubPort, subPort)

	sub, err := axon.Create(axon.RoleSub, "sub4")
	require.NoError(t, err)
	require.NoError(t, sub.SetOption("subscribesTo", []string{`orders\.created`}))
	fastDiscovery(t, sub, subPort, pubPort)

	created := make(chan struct{}, 4)
	require.NoError(t, sub.Subscribe(`orders\.created`, func(context.Context, string, wire.Message) wire.Message {
		created <- struct{}{}
		return nil
	}, nil))

	require.NoError(t, pub.Start(context.Background()))
	defer pub.Release()
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Release()

	// Send succeeds even before the subscriber has connected, so keep
	// publishing until one orders.created message has arrived.
	require.Eventually(t, func() bool {
		if len(created) > 0 {
			return true
		}
		_ = pub.Send("orders.created")
		return false
	}, time.Second, 10*time.Millisecond)

	select {
	case <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never matched orders.created")
	}

	// orders.deleted doesn't match the subscriber's pattern: sending it
	// must not invoke the orders.created callback.
	require.NoError(t, pub.Send("orders.deleted"))
	select {
	case <-created:
		t.Fatal("orders.deleted should not have matched the orders.created pattern")
	case <-time.After(200 * time.Millisecond):
	}
}
