package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event sources used as label values
const (
	SourceAuthor = "author"
	SourceRemote = "remote"
)

var (
	// Event pipeline metrics
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_events_received_total",
			Help: "Total number of VOEvents received by source",
		},
		[]string{"source"},
	)

	EventsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_events_accepted_total",
			Help: "Total number of VOEvents accepted by source",
		},
		[]string{"source"},
	)

	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_events_rejected_total",
			Help: "Total number of VOEvents rejected by source and validator",
		},
		[]string{"source", "validator"},
	)

	ValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "comet_validation_duration_seconds",
			Help:    "Time taken to run the validation pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comet_handler_duration_seconds",
			Help:    "Time taken by each event handler in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	HandlerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_handler_failures_total",
			Help: "Total number of handler errors and panics by handler",
		},
		[]string{"handler"},
	)

	// Connection metrics
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_connections_total",
			Help: "Total number of inbound connections by role and admission result",
		},
		[]string{"role", "result"},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "comet_connections_active",
			Help: "Number of open connections by role",
		},
		[]string{"role"},
	)

	ProtocolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_protocol_errors_total",
			Help: "Total number of connections closed for protocol violations by role",
		},
		[]string{"role"},
	)

	// Publisher metrics
	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comet_broadcasts_total",
			Help: "Total number of events broadcast to subscribers",
		},
	)

	SubscribersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comet_subscribers_connected",
			Help: "Number of subscribers currently connected to the publisher",
		},
	)

	SubscribersDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_subscribers_dropped_total",
			Help: "Total number of subscribers removed by reason",
		},
		[]string{"reason"},
	)

	// Federation metrics
	RemoteConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "comet_remote_connected",
			Help: "Whether the subscription to a remote broker is active (1 = active)",
		},
		[]string{"remote"},
	)

	RemoteConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comet_remote_connect_attempts_total",
			Help: "Total number of connection attempts to remote brokers",
		},
		[]string{"remote"},
	)

	// Ledger metrics
	LedgerEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comet_ledger_entries",
			Help: "Number of IVORNs recorded in the ledger",
		},
	)

	LedgerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comet_ledger_errors_total",
			Help: "Total number of failed ledger operations after startup",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EventsReceivedTotal)
	prometheus.MustRegister(EventsAcceptedTotal)
	prometheus.MustRegister(EventsRejectedTotal)
	prometheus.MustRegister(ValidationDuration)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(HandlerFailuresTotal)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(ProtocolErrorsTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(SubscribersConnected)
	prometheus.MustRegister(SubscribersDroppedTotal)
	prometheus.MustRegister(RemoteConnected)
	prometheus.MustRegister(RemoteConnectAttemptsTotal)
	prometheus.MustRegister(LedgerEntries)
	prometheus.MustRegister(LedgerErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
