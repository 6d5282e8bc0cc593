package discovery

import "time"

// Default values mandated by spec section 6 for interoperability; these
// MUST be used absent configuration.
const (
	DefaultHelloInterval  = 2000 * time.Millisecond
	DefaultCheckInterval  = 4000 * time.Millisecond
	DefaultNodeTimeout    = 5000 * time.Millisecond
	DefaultMasterTimeout  = 6000 * time.Millisecond
	DefaultKey            = "$$"
	DefaultBroadcastAddr  = "255.255.255.255"
	DefaultMulticastTTL   = 1
	DefaultMastersRequired = 1
)

// Config holds every discovery knob enumerated in spec section 4.3.
type Config struct {
	HelloInterval  time.Duration
	CheckInterval  time.Duration
	NodeTimeout    time.Duration
	MasterTimeout  time.Duration
	Address        string
	Port           int
	Broadcast      string
	Multicast      string
	MulticastTTL   int
	Unicast        []string
	Key            string
	MastersRequired int
	Weight         int
	Client         bool
	ReuseAddr      bool
	IgnoreProcess  bool
	IgnoreInstance bool
	Hostname       string
}

// DefaultConfig returns a Config populated with every spec-mandated
// default (spec section 6).
func DefaultConfig() Config {
	return Config{
		HelloInterval:   DefaultHelloInterval,
		CheckInterval:   DefaultCheckInterval,
		NodeTimeout:     DefaultNodeTimeout,
		MasterTimeout:   DefaultMasterTimeout,
		Broadcast:       DefaultBroadcastAddr,
		MulticastTTL:    DefaultMulticastTTL,
		Key:             DefaultKey,
		MastersRequired: DefaultMastersRequired,
		Weight:          0,
	}
}
