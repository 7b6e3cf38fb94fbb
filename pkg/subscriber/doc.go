/*
Package subscriber federates events from remote brokers.

A Client holds one outbound subscription. It alternates between Connecting,
Active and Disconnected. After a failed dial or a lost connection it waits an
exponentially growing interval (github.com/cenkalti/backoff/v4, capped at
MaxBackoff, never giving up) and tries again. A successful connection resets
the interval.

While Active, every VOEvent from the remote goes through the same validation
and handler pipelines as an author submission, and the client answers with an
ack or nak. Keepalives are answered in kind. A remote that stays silent for
IdleTimeout is treated as gone.
*/
package subscriber
