// Package metrics defines and registers all custom Prometheus metrics for
// the fleet tracking service. It is the single source of truth for metric
// names, labels, and help strings.
//
// Metrics register with the default Prometheus registry at import time via
// promauto; the router exposes them on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracking"

// ── Feed metrics ──────────────────────────────────────────────────────────────

// PositionsReceivedTotal counts accepted position samples by transport.
// Label:
//   - source: "push" or "poll"
var PositionsReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_received_total",
		Help:      "Total number of position samples delivered to the reconciler, by feed source.",
	},
	[]string{"source"},
)

// PositionsDroppedTotal counts inbound push messages that yielded no position.
// Label:
//   - reason: "decode" (body did not parse) or "no_position" (no extractable coordinates)
var PositionsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_dropped_total",
		Help:      "Total number of inbound messages dropped without a position, by reason.",
	},
	[]string{"reason"},
)

// PollFailuresTotal counts poll ticks that delivered nothing.
// Label:
//   - reason: "request" (transport/HTTP/decode failure) or "no_position"
var PollFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_failures_total",
		Help:      "Total number of failed poll attempts, by reason. Each is retried on the next tick.",
	},
	[]string{"reason"},
)

// PushReconnectsTotal counts successful push subscriptions, including the
// initial one; values above the session count indicate reconnect churn.
var PushReconnectsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_reconnects_total",
		Help:      "Total number of successful push feed subscriptions (initial connects and reconnects).",
	},
)

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionsStartedTotal counts tracking sessions that resolved a credential
// and started their feed clients.
var SessionsStartedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Total number of tracking sessions started.",
	},
)

// SessionsStoppedTotal counts explicit session teardowns.
var SessionsStoppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_stopped_total",
		Help:      "Total number of tracking sessions stopped.",
	},
)

// CredentialFailuresTotal counts session starts that ended unconfigured.
var CredentialFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_failures_total",
		Help:      "Total number of session starts that found no tracking credential for the asset.",
	},
)

var activeSessionsOnce sync.Once

// RegisterActiveSessions exposes the live session count as a gauge backed by
// the tracker service. Safe to call more than once; only the first count
// function is registered.
func RegisterActiveSessions(count func() float64) {
	activeSessionsOnce.Do(func() {
		promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Current number of non-terminal tracking sessions.",
			},
			count,
		)
	})
}
