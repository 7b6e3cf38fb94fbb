/*
Package api serves the broker's HTTP operations endpoints.

	/health   component health from the metrics registry (503 when a critical component fails, "degraded" when only a remote is down)
	/ready    ledger reachable and the ledger, receiver and publisher registered healthy
	/live     process liveness
	/metrics  Prometheus exposition

/ready also lists the receiver and publisher listen addresses, the number of
connected subscribers and the state of each remote subscription. Remote
subscriptions never make the broker unready because they are retried forever.

The server is disabled unless the broker is configured with metrics_addr.
*/
package api
