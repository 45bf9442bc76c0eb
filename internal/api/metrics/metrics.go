// Package metrics defines all custom Prometheus metrics for the
// rendezvous/signaling server. It is the single source of truth for
// metric names, labels, and help strings.
//
// Each var below registers itself with the default registry via promauto
// at init time; importing this package for its side effects is enough,
// there is no explicit Register() call.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rendez"

// ── Control-channel metrics ────────────────────────────────────────────

// ConnectedClients tracks the number of currently open control channels,
// mirroring GET /health's {clients:<n>}.
var ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "connected_clients",
	Help:      "Current number of open control channels.",
})

// MessagesReceivedTotal counts inbound frames by wire type.
var MessagesReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Total number of inbound control-channel frames, by type.",
	},
	[]string{"type"},
)

// MessageDispatchDuration measures how long a single frame's handler
// took, from dispatch to reply/forward.
var MessageDispatchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_dispatch_duration_seconds",
		Help:      "Duration of a single control-channel message handler.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"type"},
)

// HeartbeatSweepClosedTotal counts channels closed by the periodic
// heartbeat-timeout sweep (spec §4.D/§5).
var HeartbeatSweepClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "heartbeat_sweep_closed_total",
	Help:      "Total number of channels closed by the stale heartbeat sweep.",
})

// ── Signaling metrics ──────────────────────────────────────────────────

// PendingConnections tracks the number of in-flight signaling sessions.
var PendingConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "pending_connections",
	Help:      "Current number of pending (in-flight) signaling connections.",
})

// SignalingOutcomesTotal counts how pending connections resolved.
// Label:
//   - outcome: "completed", "rejected", "timeout", or "access_denied"
var SignalingOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signaling_outcomes_total",
		Help:      "Total number of signaling sessions, labelled by how they resolved.",
	},
	[]string{"outcome"},
)

// ── Presence metrics ───────────────────────────────────────────────────

// PresenceTransitionsTotal counts machine_online/machine_offline
// transitions fanned out locally, one per transition however many live
// channels received it (possibly none).
var PresenceTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "presence_transitions_total",
		Help:      "Total number of presence transitions fanned out, by direction.",
	},
	[]string{"online"},
)
