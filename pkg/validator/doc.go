/*
Package validator decides which incoming VOEvents the broker accepts.

A Pipeline runs Validators in a fixed order and stops at the first rejection.
The rejecting validator's error message becomes the reason carried in the nak
sent back to the submitter. The broker builds two validators by default:

  - PreviouslySeen (CheckPreviouslySeen) atomically checks and records the
    IVORN in the ledger and rejects repeats with ErrDuplicate. A ledger failure
    after startup is logged and the event accepted.
  - SchemaValidator applies a fixed structural check of the VOEvent 2.0 format:
    root element and namespace, ivorn/role/version attributes, the order and
    multiplicity of top-level elements, Who/Date, Param names and citations.

Dedup runs first unless the broker is configured with schema_first, so an event
that fails the schema check still has its IVORN recorded.
*/
package validator
