package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "dynamo"
)

var (
	// OperationsTotal counts coordinated client operations
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of coordinated operations",
		},
		[]string{"op", "status"}, // op: bucket_create/object_read/..., status: success/failure
	)

	// OperationDuration measures coordination latency
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Coordinated operation latency in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 20},
		},
		[]string{"op"},
	)

	// QuorumRounds counts quorum collections by outcome
	QuorumRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quorum_rounds_total",
			Help:      "Total number of quorum collections",
		},
		[]string{"kind", "outcome"}, // kind: write/read/forward, outcome: success/failure/timeout
	)

	// LateReplies counts replies that arrived for no pending round
	LateReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_replies_total",
			Help:      "Replies received after their round completed",
		},
	)

	// Members tracks membership set sizes
	Members = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Number of known peers",
		},
		[]string{"state"}, // alive/dead
	)

	// RingVirtualNodes tracks ring size
	RingVirtualNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_virtual_nodes",
			Help:      "Number of virtual nodes on the local ring",
		},
	)

	// GossipRounds counts gossip sends
	GossipRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_rounds_total",
			Help:      "Total number of gossip rounds",
		},
		[]string{"status"},
	)

	// MembershipEvents counts join/revive/dead transitions
	MembershipEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_events_total",
			Help:      "Membership state transitions",
		},
		[]string{"event"},
	)

	// PacketsDropped counts datagrams discarded by receivers
	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped by receivers",
		},
		[]string{"role", "reason"},
	)

	// Uptime tracks process uptime
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Node uptime in seconds",
		},
	)
)

// RecordOperation records a coordinated operation
func RecordOperation(op string, duration time.Duration, success bool) {
	OperationsTotal.WithLabelValues(op, statusLabel(success)).Inc()
	OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordQuorum records the outcome of a quorum collection
func RecordQuorum(kind string, success, timedOut bool) {
	outcome := statusLabel(success)
	if timedOut {
		outcome = "timeout"
	}
	QuorumRounds.WithLabelValues(kind, outcome).Inc()
}

// RecordGossip records a gossip send
func RecordGossip(err error) {
	GossipRounds.WithLabelValues(statusLabel(err == nil)).Inc()
}

// RecordMembership publishes membership sizes
func RecordMembership(alive, dead int) {
	Members.WithLabelValues("alive").Set(float64(alive))
	Members.WithLabelValues("dead").Set(float64(dead))
}

// RecordDrop records a discarded datagram
func RecordDrop(role, reason string) {
	PacketsDropped.WithLabelValues(role, reason).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
