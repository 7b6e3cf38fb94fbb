/*
Package publisher distributes accepted VOEvents to connected subscribers.

Subscribers connect to the publisher port and are admitted against an optional
whitelist. Each subscriber gets a bounded frame queue drained by its own writer
goroutine. Broadcast takes a snapshot of the subscriber set and queues the
event for every member; a subscriber whose queue is full, or whose connection
fails a write, is removed without delaying anyone else. Subscribers that join
later do not receive earlier events.

Handlers call Publish, which passes the event over a channel to the
publisher's run loop:

	relay := handler.NewEventRelay(pub)
	pipeline := handler.NewPipeline(relay)

When KeepaliveInterval is set, an iamalive transport message is sent to every
subscriber on that interval. Acks, naks and keepalive replies that subscribers
send back are logged and otherwise ignored.
*/
package publisher
