// Package metrics exposes prometheus instruments for the coordinator and
// node processes. Labels stay bounded (result codes, never agent or node
// IDs) so a hostile client cannot blow up cardinality.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Coordinator holds the authority-side instruments.
type Coordinator struct {
	ConnectedNodes prometheus.Gauge
	AgentCount     prometheus.Gauge
	FallbackActive prometheus.Gauge

	ClaimsTotal    *prometheus.CounterVec
	OrphansTotal   *prometheus.CounterVec
	PosApplied     prometheus.Counter
	PosRejected    prometheus.Counter
	BroadcastBytes prometheus.Counter

	TickDuration prometheus.Histogram
}

// NewCoordinator registers the coordinator instruments on reg. Pass
// prometheus.DefaultRegisterer in main; tests use a fresh registry.
func NewCoordinator(reg prometheus.Registerer) *Coordinator {
	f := promauto.With(reg)
	return &Coordinator{
		ConnectedNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "mobsim_connected_nodes",
			Help: "Currently connected simulation nodes",
		}),
		AgentCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "mobsim_agent_count",
			Help: "Agents in the registry",
		}),
		FallbackActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "mobsim_fallback_active",
			Help: "Orphaned agents currently driven by the fallback simulator",
		}),
		ClaimsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mobsim_claims_total",
			Help: "Claim requests by result",
		}, []string{"result"}), // Bounded: "granted", "taken", "stale", "cap", "unknown"
		OrphansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mobsim_orphans_total",
			Help: "Agents orphaned by reason",
		}, []string{"reason"}), // Bounded: "release", "timeout", "disconnect"
		PosApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "mobsim_pos_updates_applied_total",
			Help: "Position updates accepted from owning nodes",
		}),
		PosRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "mobsim_pos_updates_rejected_total",
			Help: "Position updates dropped for wrong owner or stale version",
		}),
		BroadcastBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "mobsim_broadcast_bytes_total",
			Help: "Bytes queued for broadcast to nodes",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mobsim_tick_duration_seconds",
			Help:    "Time spent in one authority tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

// Node holds the node-side instruments.
type Node struct {
	OwnedAgents  prometheus.Gauge
	MirrorAgents prometheus.Gauge

	ClaimsSent   *prometheus.CounterVec
	UpdatesSent  prometheus.Counter
	PathRequests prometheus.Counter
	PathFailures prometheus.Counter

	TickDuration prometheus.Histogram
}

func NewNode(reg prometheus.Registerer) *Node {
	f := promauto.With(reg)
	return &Node{
		OwnedAgents: f.NewGauge(prometheus.GaugeOpts{
			Name: "mobsim_node_owned_agents",
			Help: "Agents this node is simulating",
		}),
		MirrorAgents: f.NewGauge(prometheus.GaugeOpts{
			Name: "mobsim_node_mirror_agents",
			Help: "Agents known to this node including mirrors",
		}),
		ClaimsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mobsim_node_claims_total",
			Help: "Claim attempts by outcome",
		}, []string{"result"}), // Bounded: "granted", "rejected"
		UpdatesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mobsim_node_pos_updates_sent_total",
			Help: "Position updates sent upstream",
		}),
		PathRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "mobsim_node_path_requests_total",
			Help: "Pathfinding requests issued",
		}),
		PathFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mobsim_node_path_failures_total",
			Help: "Pathfinding requests that returned no route",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mobsim_node_tick_duration_seconds",
			Help:    "Time spent in one node tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

// Handler serves the default registry in the standard exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
