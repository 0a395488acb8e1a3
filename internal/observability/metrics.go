package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. HTTP-level metrics live in the middleware package; these
// track what happened to Slack deliveries after they were accepted.
var (
	// SignatureRejections counts requests failing verification, by reason
	// (missing_headers, invalid_timestamp, stale_timestamp, mismatch).
	SignatureRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_signature_rejections_total",
			Help: "Inbound Slack requests rejected by signature verification.",
		},
		[]string{"reason"},
	)

	// Commands counts slash commands by command name and outcome.
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_commands_total",
			Help: "Slash commands handled, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)

	// Invites counts per-recipient DM attempts (outcome: sent|failed).
	Invites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_invites_total",
			Help: "Direct-message invites attempted, by outcome.",
		},
		[]string{"outcome"},
	)

	// DeferredDeliveryFailures counts response_url posts that failed.
	DeferredDeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slack_deferred_delivery_failures_total",
			Help: "Failed deliveries to a slash command response_url.",
		},
	)

	// CallEvents counts classified lifecycle events by kind.
	CallEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_call_events_total",
			Help: "Events API deliveries by classified kind.",
		},
		[]string{"kind"},
	)

	// StoreWrites counts mapping store writes by outcome (ok|error).
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapping_store_writes_total",
			Help: "Mapping store writes, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(SignatureRejections, Commands, Invites, DeferredDeliveryFailures, CallEvents, StoreWrites)
}
