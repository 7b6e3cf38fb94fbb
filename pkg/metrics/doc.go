/*
Package metrics provides Prometheus metrics and health endpoints for the comet
broker.

All collectors are registered with the default Prometheus registry at package
init and are exposed by Handler for scraping. Counters follow the life of an
event through the broker:

	comet_events_received_total{source}             every parsed VOEvent
	comet_events_accepted_total{source}             passed the validation pipeline
	comet_events_rejected_total{source,validator}   rejected, labelled by the failing validator
	comet_handler_failures_total{handler}           handler errors and recovered panics
	comet_broadcasts_total                          events fanned out to subscribers
	comet_subscribers_dropped_total{reason}         slow or broken subscribers removed

source is "author" for submissions on the receiver port and "remote" for events
arriving over a subscription to another broker.

Sampled values (ledger size, subscriber count) are refreshed by a Collector that
polls a Source on a fixed interval.

# Health

RegisterComponent and UpdateComponent record per-component health. The ledger,
receiver and publisher are critical: GetReadiness reports not_ready until all
three are registered and healthy, and GetHealth reports unhealthy when one of
them fails. Each subscription to a remote broker registers itself under
RemoteComponent(addr); a lost remote only degrades the broker. The HTTP
endpoints serving these reports live in pkg/api.

# Timing

	timer := metrics.NewTimer()
	result := pipeline.Run(ctx, ev)
	timer.ObserveDuration(metrics.ValidationDuration)
*/
package metrics
