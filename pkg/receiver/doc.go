/*
Package receiver accepts VOEvent submissions from authors.

Each inbound connection moves through Connected, Authenticating (whitelist
check, before anything is read), Active and finally Closed. While Active the
connection's goroutine reads one frame at a time and answers every VOEvent
with exactly one ack or nak before reading the next:

	frame -> parse -> validation pipeline -> ack/nak -> handler pipeline (on accept)

Handlers run with the context given to Start rather than a per-connection one,
so an author hanging up does not cancel delivery of an event it already
submitted. Documents that cannot be parsed are answered with a nak carrying an
empty origin, and the connection stays open. Broken framing, an idle timeout,
or the author disconnecting closes it.
*/
package receiver
