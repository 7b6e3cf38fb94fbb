package types

import (
	"strings"
	"time"
)

// Event is a single VOEvent as received from a connection.
// It is built once by the protocol parser and never mutated afterwards.
type Event struct {
	Raw        []byte // Exact bytes received on the wire
	IVORN      string // Globally unique identifier, the event's identity
	Role       Role
	Version    string
	Timestamp  time.Time // Who/Date, zero if the document carries none
	Author     string    // Who/AuthorIVORN
	Params     []Param
	Citations  []Citation
	Source     string // Remote address the event arrived from
	ReceivedAt time.Time
}

// Role is the VOEvent role attribute
type Role string

const (
	RoleObservation Role = "observation"
	RolePrediction  Role = "prediction"
	RoleUtility     Role = "utility"
	RoleTest        Role = "test"
)

// Valid reports whether r is one of the VOEvent 2.0 roles
func (r Role) Valid() bool {
	switch r {
	case RoleObservation, RolePrediction, RoleUtility, RoleTest:
		return true
	}
	return false
}

// Param is a What/Param entry; Group is empty for top-level params
type Param struct {
	Group string
	Name  string
	Value string
	Unit  string
	UCD   string
}

// CiteType is the relationship an event has with a cited event
type CiteType string

const (
	CiteFollowup   CiteType = "followup"
	CiteSupersedes CiteType = "supersedes"
	CiteRetraction CiteType = "retraction"
)

// Valid reports whether c is a known citation type
func (c CiteType) Valid() bool {
	switch c {
	case CiteFollowup, CiteSupersedes, CiteRetraction:
		return true
	}
	return false
}

// Citation references an earlier event by IVORN
type Citation struct {
	IVORN string
	Cite  CiteType
}

// IsRetraction reports whether the event retracts at least one earlier event
func (e *Event) IsRetraction() bool {
	for _, c := range e.Citations {
		if c.Cite == CiteRetraction {
			return true
		}
	}
	return false
}

// Param returns the first parameter with the given name, searching groups too
func (e *Event) Param(name string) (Param, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Authority returns the authority part of an IVORN ("ivo://<authority>/...").
// An empty string is returned when the IVORN has no ivo:// scheme.
func Authority(ivorn string) string {
	rest, ok := strings.CutPrefix(ivorn, "ivo://")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// Ack is the outcome reported back to the peer that sent an event
type Ack struct {
	IVORN     string // Origin: the event being acknowledged
	Accepted  bool
	Reason    string // Rejection reason, empty when accepted
	Responder string // Local IVO of the acknowledging broker
	Timestamp time.Time
}

// ConnState tracks where a connection is in its lifecycle
type ConnState string

const (
	// Server-side (receiver) connection states
	ConnStateConnected      ConnState = "connected"
	ConnStateAuthenticating ConnState = "authenticating"
	ConnStateActive         ConnState = "active"
	ConnStateClosed         ConnState = "closed"

	// Client-side (subscriber) states; Active is shared
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateConnecting   ConnState = "connecting"
)

// ConnRole identifies which side of the broker a connection serves
type ConnRole string

const (
	ConnRoleAuthor     ConnRole = "author"     // Inbound, submits events
	ConnRoleSubscriber ConnRole = "subscriber" // Inbound, receives broadcasts
	ConnRoleRemote     ConnRole = "remote"     // Outbound, federates from another broker
)
