/*
Package broker assembles a complete VOEvent broker from its parts.

New checks the configuration and resolves named plugins; Start then brings the
service up in order:

 1. open the IVORN ledger (failure is fatal)
 2. build the validation pipeline: deduplication and the schema check, in the
    configured order, then any WithValidators extras
 3. start the publisher and build the handler pipeline: event relay first,
    then WithHandlers extras, then plugins
 4. start the receiver for authors
 5. start one subscriber client per remote broker
 6. start the metrics collector and, when metrics_addr is set, the HTTP
    health endpoint

Stop reverses this: remote subscriptions, receiver, publisher, HTTP server and
finally the ledger. Author submissions and federated events share one set of
pipelines, so an event is handled at most once whichever way it arrives.

	b, err := broker.New(cfg, broker.WithVersion(version))
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	b.Wait()
*/
package broker
