package discovery

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Node is the local view of one other instance seen on the network
// (spec section 6).
type Node struct {
	IID           string
	Hostname      string
	Address       string
	Advertisement map[string]any
	IsMaster      bool
	Weight        int

	lastSeen      time.Time
	advHash       uint64
}

func (n *Node) clone() *Node {
	cp := *n
	adv := make(map[string]any, len(n.Advertisement))
	for k, v := range n.Advertisement {
		adv[k] = v
	}
	cp.Advertisement = adv
	return &cp
}

// table is the concurrent node table keyed by iid (spec section 3: "The
// node table is a mapping from instance id to DiscoveryNode; keys
// unique...").
type table struct {
	nodes *xsync.Map[string, *Node]
}

func newTable() *table {
	return &table{nodes: xsync.NewMap[string, *Node]()}
}

func (t *table) get(iid string) (*Node, bool) {
	return t.nodes.Load(iid)
}

func (t *table) store(n *Node) {
	t.nodes.Store(n.IID, n)
}

func (t *table) delete(iid string) {
	t.nodes.Delete(iid)
}

func (t *table) list() []*Node {
	out := make([]*Node, 0, t.nodes.Size())
	t.nodes.Range(func(_ string, n *Node) bool {
		out = append(out, n.clone())
		return true
	})
	return out
}

func (t *table) forEach(fn func(*Node) bool) {
	t.nodes.Range(func(_ string, n *Node) bool {
		return fn(n)
	})
}
