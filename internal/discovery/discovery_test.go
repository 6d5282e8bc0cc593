package discovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var nextTestPort int64 = 31900

func allocPort() int {
	return int(atomic.AddInt64(&nextTestPort, 1))
}

// testConfig builds a unicast-mode config: broadcast discovery is hard to
// exercise deterministically in a sandboxed test environment, but unicast
// (spec section 4.3's "unicast" knob, used for e.g. docker-compose peer
// lists) drives the exact same table/election/liveness code paths.
func testConfig(port int, peers ...int) Config {
	cfg := DefaultConfig()
	cfg.Port = port
	cfg.HelloInterval = 50 * time.Millisecond
	cfg.CheckInterval = 50 * time.Millisecond
	cfg.NodeTimeout = 200 * time.Millisecond
	cfg.MasterTimeout = 200 * time.Millisecond
	for _, p := range peers {
		cfg.Unicast = append(cfg.Unicast, fmt.Sprintf("127.0.0.1:%d", p))
	}
	return cfg
}

func TestEngineDiscoversPeer(t *testing.T) {
	t.Parallel()

	portA, portB := allocPort(), allocPort()

	advA := func() map[string]any { return map[string]any{"axon_type": "pub", "name": "a"} }
	advB := func() map[string]any { return map[string]any{"axon_type": "sub", "name": "b"} }

	a, err := New(testConfig(portA, portB), advA)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	added := make(chan *Node, 4)
	b, err := New(testConfig(portB, portA), advB)
	require.NoError(t, err)
	b.OnAdded(func(n *Node) { added <- n })
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	select {
	case n := <-added:
		require.Equal(t, a.IID(), n.IID)
		require.Equal(t, "a", n.Advertisement["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer discovery")
	}
}

func TestEngineRemovesDeadPeer(t *testing.T) {
	t.Parallel()

	portA, portB := allocPort(), allocPort()
	adv := func() map[string]any { return map[string]any{} }

	a, err := New(testConfig(portA, portB), adv)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	removed := make(chan *Node, 4)
	b, err := New(testConfig(portB, portA), adv)
	require.NoError(t, err)
	b.OnRemoved(func(n *Node) { removed <- n })
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	require.Eventually(t, func() bool {
		return len(b.Nodes()) == 1
	}, time.Second, 10*time.Millisecond)

	a.Stop()

	select {
	case n := <-removed:
		require.Equal(t, a.IID(), n.IID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer removal")
	}
}

func TestEngineEmitsChangedOnAdvertisementUpdate(t *testing.T) {
	t.Parallel()

	portA, portB := allocPort(), allocPort()

	var advPayload atomic.Value
	advPayload.Store(map[string]any{"rev": 1.0})
	a, err := New(testConfig(portA, portB), func() map[string]any {
		return advPayload.Load().(map[string]any)
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	changed := make(chan *Node, 4)
	b, err := New(testConfig(portB, portA), func() map[string]any { return map[string]any{} })
	require.NoError(t, err)
	b.OnChanged(func(n *Node) { changed <- n })
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	require.Eventually(t, func() bool { return len(b.Nodes()) == 1 }, time.Second, 10*time.Millisecond)

	advPayload.Store(map[string]any{"rev": 2.0})

	select {
	case n := <-changed:
		require.Equal(t, 2.0, n.Advertisement["rev"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for advertisement change")
	}
}

func TestElectionPrefersWeightThenLowestIID(t *testing.T) {
	t.Parallel()

	others := []*Node{
		{IID: "zzz", Weight: 10},
		{IID: "aaa", Weight: 10},
	}
	require.False(t, elect("self", 5, others, 1))
	require.True(t, elect("aaa", 10, others[:1], 1))
}

func TestElectionMastersRequired(t *testing.T) {
	t.Parallel()

	others := []*Node{
		{IID: "b", Weight: 10},
		{IID: "c", Weight: 1},
	}
	require.True(t, elect("a", 5, others, 2))
	require.False(t, elect("a", 5, others, 1))
}
