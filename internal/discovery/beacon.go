package discovery

import (
	"encoding/json"
	"fmt"
)

// beacon is the JSON datagram broadcast on the discovery channel (spec
// section 6). Field names are fixed by the wire contract and must not be
// renamed.
type beacon struct {
	IID           string         `json:"iid"`
	Hostname      string         `json:"hostname"`
	Address       string         `json:"address"`
	Advertisement map[string]any `json:"advertisement"`
	IsMaster      bool           `json:"isMaster"`
	Weight        int            `json:"weight"`
}

func (b beacon) marshal() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal beacon: %w", err)
	}
	return data, nil
}

// parseBeacon decodes a received datagram. Per spec section 7, a
// malformed datagram is silently dropped by the caller, not surfaced as
// an error event — parseBeacon only reports the parse failure so the
// caller can decide. The shared `key` (spec section 6) lives inside the
// advertisement object, not as a field of this envelope; matching it is
// the endpoint's job (see filter.go), not the discovery engine's.
func parseBeacon(data []byte) (beacon, error) {
	var b beacon
	if err := json.Unmarshal(data, &b); err != nil {
		return beacon{}, fmt.Errorf("unmarshal beacon: %w", err)
	}
	if b.IID == "" {
		return beacon{}, fmt.Errorf("beacon missing iid")
	}
	return b, nil
}
