// Package metrics holds the Prometheus collectors instrumenting the
// transport and discovery hot paths. Counters are package-level so every
// endpoint in a process shares one set of series; call Register once per
// process to expose them on a registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TransportConnectionsOpen is the current count of open connections,
	// labeled by transport role.
	TransportConnectionsOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "axon_transport_connections_open",
		Help: "Current number of open AMP connections, by role.",
	}, []string{"role"})

	// TransportMessagesSent counts successfully written AMP messages.
	TransportMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_transport_messages_sent_total",
		Help: "Total AMP messages sent, by role.",
	}, []string{"role"})

	// TransportMessagesReceived counts successfully decoded inbound AMP
	// messages.
	TransportMessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_transport_messages_received_total",
		Help: "Total AMP messages received, by role.",
	}, []string{"role"})

	// TransportErrors counts dial/accept/read/write/decode failures.
	TransportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_transport_errors_total",
		Help: "Total transport errors, by role.",
	}, []string{"role"})

	// DiscoveryNodesLive is the current size of the discovery node table.
	DiscoveryNodesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "axon_discovery_nodes_live",
		Help: "Current number of live peers in the discovery node table.",
	})

	// DiscoveryBeaconsSent counts beacons transmitted.
	DiscoveryBeaconsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "axon_discovery_beacons_sent_total",
		Help: "Total discovery beacons sent.",
	})

	// DiscoveryBeaconsReceived counts beacons that parsed and did not come
	// from this instance or an ignored process. The key is not checked
	// here.
	DiscoveryBeaconsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "axon_discovery_beacons_received_total",
		Help: "Total discovery beacons received and accepted.",
	})

	// DiscoveryEvents counts added/removed/changed/master/error events
	// emitted, by kind.
	DiscoveryEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axon_discovery_events_total",
		Help: "Total discovery events emitted, by kind.",
	}, []string{"kind"})

	collectors = []prometheus.Collector{
		TransportConnectionsOpen,
		TransportMessagesSent,
		TransportMessagesReceived,
		TransportErrors,
		DiscoveryNodesLive,
		DiscoveryBeaconsSent,
		DiscoveryBeaconsReceived,
		DiscoveryEvents,
	}
)

// Register adds every axon collector to reg. Collectors that reg already
// holds are skipped, so calling it again against the same registry
// returns nil.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
