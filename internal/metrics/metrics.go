// Package metrics exposes the prometheus collectors each component
// registers on its own /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Node holds the collectors a Node process registers.
type Node struct {
	WritesTotal         *prometheus.CounterVec
	WriteDuration       *prometheus.HistogramVec
	ReplicateDuration   *prometheus.HistogramVec
	ReplicateRejections prometheus.Counter
	RecordCount         prometheus.Gauge
	HeartbeatsSent      prometheus.Counter
	HeartbeatFailures   prometheus.Counter
}

// NewNode registers and returns a Node metrics bundle under namespace
// "quorumkv_node".
func NewNode(nodeID string) *Node {
	labels := prometheus.Labels{"node_id": nodeID}
	return &Node{
		WritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "writes_total",
			Help:        "Total local writes accepted by this node.",
			ConstLabels: labels,
		}, []string{"result"}),
		WriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "write_duration_seconds",
			Help:        "Latency of the leader write path including sync fan-out.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"result"}),
		ReplicateDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "replicate_duration_seconds",
			Help:        "Latency of the follower replicate apply path, including the artificial delay.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"sync"}),
		ReplicateRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "replicate_rejections_total",
			Help:        "Replicate calls dropped because the incoming version was not newer.",
			ConstLabels: labels,
		}),
		RecordCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "record_count",
			Help:        "Number of keys currently held by this node.",
			ConstLabels: labels,
		}),
		HeartbeatsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "heartbeats_sent_total",
			Help:        "Heartbeats successfully delivered to the registry.",
			ConstLabels: labels,
		}),
		HeartbeatFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "quorumkv",
			Subsystem:   "node",
			Name:        "heartbeat_failures_total",
			Help:        "Heartbeats that failed to reach the registry and were retried.",
			ConstLabels: labels,
		}),
	}
}

// Coordinator holds the collectors the Coordinator process registers.
type Coordinator struct {
	WriteDuration       *prometheus.HistogramVec
	ReadDuration        *prometheus.HistogramVec
	QuorumFailuresTotal *prometheus.CounterVec
	ReplicationLag      *prometheus.GaugeVec
	FollowersAlive      prometheus.Gauge
	ReadRepairsTotal    prometheus.Counter
	SpawnsTotal         *prometheus.CounterVec
}

// NewCoordinator registers and returns a Coordinator metrics bundle.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		WriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "write_duration_seconds",
			Help:      "End-to-end latency of a client write as seen by the coordinator.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		ReadDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "read_duration_seconds",
			Help:      "End-to-end latency of a client read as seen by the coordinator.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		QuorumFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "quorum_failures_total",
			Help:      "Writes or reads that failed to reach the configured quorum.",
		}, []string{"op"}),
		ReplicationLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "replication_lag_versions",
			Help:      "Versions behind the leader observed on the most recent read for a follower.",
		}, []string{"node_id"}),
		FollowersAlive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "followers_alive",
			Help:      "Number of followers currently considered live.",
		}),
		ReadRepairsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "read_repairs_total",
			Help:      "Background read-repair writes issued to lagging followers.",
		}),
		SpawnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "coordinator",
			Name:      "spawns_total",
			Help:      "Node spawns performed, split by fresh vs respawn.",
		}, []string{"kind"}),
	}
}

// Registry holds the collectors the Registry process registers.
type Registry struct {
	AliveNodes    prometheus.Gauge
	PrunedTotal   prometheus.Counter
	RespawnsTotal prometheus.Counter
	Resurrections prometheus.Counter
}

// NewRegistry registers and returns a Registry metrics bundle.
func NewRegistry() *Registry {
	return &Registry{
		AliveNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "quorumkv",
			Subsystem: "registry",
			Name:      "alive_nodes",
			Help:      "Nodes currently in the alive state.",
		}),
		PrunedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "registry",
			Name:      "pruned_total",
			Help:      "Nodes transitioned from alive to pruned due to missed heartbeats.",
		}),
		RespawnsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "registry",
			Name:      "respawns_total",
			Help:      "Auto-respawn requests issued to the coordinator.",
		}),
		Resurrections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "registry",
			Name:      "resurrections_total",
			Help:      "Previously-pruned node IDs that re-registered.",
		}),
	}
}

// Gateway holds the collectors the Gateway process registers.
type Gateway struct {
	RequestsTotal    *prometheus.CounterVec
	ForwardDuration  *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	UpstreamActive   *prometheus.GaugeVec
}

// NewGateway registers and returns a Gateway metrics bundle.
func NewGateway() *Gateway {
	return &Gateway{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Requests handled by the gateway, by outcome.",
		}, []string{"op", "status"}),
		ForwardDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quorumkv",
			Subsystem: "gateway",
			Name:      "forward_duration_seconds",
			Help:      "Latency of the forwarded upstream call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream"}),
		RateLimitedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quorumkv",
			Subsystem: "gateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the fixed-window rate limiter.",
		}, []string{"client_id"}),
		UpstreamActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quorumkv",
			Subsystem: "gateway",
			Name:      "upstream_active_requests",
			Help:      "In-flight requests per upstream, used by the adaptive load balancer.",
		}, []string{"upstream"}),
	}
}
