// Package handler runs side effects for events the broker has accepted.
//
// A Pipeline calls each Handler in order. A failing or panicking handler is
// logged and counted, and the remaining handlers still run. EventRelay hands
// the event to the publisher for fan-out; EventWriter ("save-event") stores
// the raw document on disk under a filename derived from the IVORN.
package handler
