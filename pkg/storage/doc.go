/*
Package storage provides the durable IVORN ledger used for event deduplication.

The ledger is the broker's only persistent state: the set of IVORNs it has
accepted, each with the time it was first seen. Entries are never removed by
the broker, so an event rejected as a duplicate stays rejected across
restarts.

# Layout

BoltLedger keeps a single BoltDB file under the configured root:

	<root>/ivorn.db
	  ├── bucket "nasa.gsfc.gcn"      (one bucket per IVORN authority)
	  │     ivo://nasa.gsfc.gcn/SWIFT#BAT_GRB_Pos_1234 → {"ivorn":...,"first_seen":...}
	  ├── bucket "voevent.phys.soton.ac.uk"
	  │     ...
	  └── bucket "_"                  (IVORNs without an ivo:// authority)

Sharding by authority keeps unrelated event streams apart and makes per-stream
inspection cheap (Authorities, Count).

# Atomicity

CheckAndRecord performs the lookup and the insert inside one bbolt write
transaction. BoltDB allows a single writer at a time, which serialises
duplicate detection across every connection in the process: when the same
IVORN arrives concurrently on two connections exactly one CheckAndRecord call
reports the insert. Seen runs in a read transaction and never blocks writers.

# Failure model

NewBoltLedger creates the root directory and performs a write before
returning, so an unwritable root surfaces at startup. The open waits at most
two seconds for the file lock; a second broker pointed at the same root fails
instead of hanging. Errors from later writes are returned to the caller, which
decides whether they are fatal (the dedup validator logs them and lets the
event through).
*/
package storage
