// Package whitelist implements address-range admission for inbound connections.
//
// A Whitelist is built once from configuration (CIDR ranges or bare addresses)
// and never changes afterwards, so it is safe for concurrent use without
// locking. An empty whitelist admits every address. The receiver and the
// publisher consult it immediately after accepting a connection and close
// rejected connections before reading anything from them.
package whitelist
