/*
Package types defines the core data structures shared by comet's components.

The central type is Event: the raw bytes of a VOEvent document together with
the attributes the broker acts on (IVORN, role, timestamp, parameters and
citations). An Event's identity is its IVORN; two events carrying the same
IVORN are the same logical event even when their payloads differ.

Events are produced by the protocol package and then only read: validators,
handlers, the publisher and the ledger all receive the same *Event pointer and
must not modify it.

Ack is what a broker reports back for every event it is sent, and ConnState /
ConnRole describe the connection lifecycles of the receiver, publisher and
subscriber client.

Retractions are not a separate role in VOEvent 2.0; an event retracts earlier
events by citing them with cite="retraction", which Event.IsRetraction reports.
*/
package types
