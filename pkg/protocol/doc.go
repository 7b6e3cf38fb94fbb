/*
Package protocol implements comet's wire format.

# Framing

Every connection carries a sequence of frames in both directions. A frame is
a 4-byte unsigned big-endian length followed by exactly that many bytes of
UTF-8 XML:

	+----------------+---------------------------------+
	| length (4, BE) | XML document (length bytes)      |
	+----------------+---------------------------------+

A zero length or a length above the configured maximum (DefaultMaxFrameSize
unless overridden) is a protocol violation, as is a stream ending inside a
frame. Callers close the connection on any error for which
IsProtocolViolation returns true.

# Documents

Two kinds of document travel inside frames and are told apart by their root
element (Classify):

  - VOEvent: the alert itself, parsed by ParseEvent into a types.Event.
  - Transport: control messages in the telescope-networks Transport v1.1
    namespace with role "ack", "nak" or "iamalive".

An ack or nak answers exactly one VOEvent. Origin carries the event's IVORN,
Response the local IVO of the broker answering, and a nak carries the
rejection reason in Meta/Result:

	<trn:Transport xmlns:trn="http://www.telescope-networks.org/xml/Transport/v1.1" version="1.0" role="nak">
	  <Origin>ivo://test/A</Origin>
	  <Response>ivo://comet.broker/default</Response>
	  <TimeStamp>2026-10-19T12:00:00Z</TimeStamp>
	  <Meta><Result>duplicate</Result></Meta>
	</trn:Transport>

Publishers send iamalive periodically; subscribers answer with an iamalive
whose Origin is the publisher's IVO and whose Response is their own.
*/
package protocol
