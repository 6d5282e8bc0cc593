package discovery

import "sort"

type candidate struct {
	iid    string
	weight int
}

// elect decides whether self is among the mastersRequired highest-weight
// candidates (spec section 6): highest weight wins; ties break toward the
// lowest iid, lexicographically. mastersRequired defaults to 1 (a single
// master), but the config allows more for namespaces that want several
// coordinators.
func elect(selfIID string, selfWeight int, others []*Node, mastersRequired int) bool {
	if mastersRequired < 1 {
		mastersRequired = 1
	}
	candidates := make([]candidate, 0, len(others)+1)
	candidates = append(candidates, candidate{iid: selfIID, weight: selfWeight})
	for _, n := range others {
		candidates = append(candidates, candidate{iid: n.IID, weight: n.Weight})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].weight != candidates[j].weight {
			return candidates[i].weight > candidates[j].weight
		}
		return candidates[i].iid < candidates[j].iid
	})
	if mastersRequired > len(candidates) {
		mastersRequired = len(candidates)
	}
	for _, c := range candidates[:mastersRequired] {
		if c.iid == selfIID {
			return true
		}
	}
	return false
}
