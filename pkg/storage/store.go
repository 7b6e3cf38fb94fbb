package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an IVORN has never been recorded
var ErrNotFound = errors.New("ivorn not found")

// Entry is one ledger record: the first time an IVORN was seen
type Entry struct {
	IVORN     string    `json:"ivorn"`
	FirstSeen time.Time `json:"first_seen"`
}

// Ledger is the durable set of previously seen IVORNs used for deduplication.
// Implementations must make CheckAndRecord atomic with respect to every other
// writer so that concurrent submissions of one IVORN yield exactly one winner.
type Ledger interface {
	// Seen reports whether ivorn has been recorded
	Seen(ivorn string) (bool, error)

	// Record inserts ivorn; recording an existing IVORN is a no-op
	Record(ivorn string) error

	// CheckAndRecord inserts ivorn if absent and reports whether this call
	// was the one that inserted it
	CheckAndRecord(ivorn string) (bool, error)

	// Get returns the stored entry or ErrNotFound
	Get(ivorn string) (*Entry, error)

	// Count returns the number of recorded IVORNs
	Count() (int, error)

	// Utility
	Close() error
}
