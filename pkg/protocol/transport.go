package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/comet/pkg/types"
)

// TransportNamespace is the XML namespace of transport messages
const TransportNamespace = "http://www.telescope-networks.org/xml/Transport/v1.1"

// TransportRole is the role attribute of a transport message
type TransportRole string

const (
	TransportAck      TransportRole = "ack"
	TransportNak      TransportRole = "nak"
	TransportIAmAlive TransportRole = "iamalive"
)

// Transport is a protocol control message: acknowledgements and keepalives
type Transport struct {
	Role      TransportRole
	Origin    string // Event IVORN for ack/nak, originating broker for iamalive
	Response  string // IVO of the responding party
	TimeStamp time.Time
	Result    string // Rejection reason carried by nak
}

type transportDoc struct {
	XMLName   xml.Name `xml:"Transport"`
	Role      string   `xml:"role,attr"`
	Version   string   `xml:"version,attr"`
	Origin    string   `xml:"Origin"`
	Response  string   `xml:"Response"`
	TimeStamp string   `xml:"TimeStamp"`
	Meta      struct {
		Result string `xml:"Result"`
	} `xml:"Meta"`
}

// Encode renders the message as an XML document ready to be framed
func (t Transport) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<trn:Transport xmlns:trn="%s" version="1.0" role="%s">`, TransportNamespace, escape(string(t.Role)))
	writeElement(&b, "Origin", t.Origin)
	if t.Response != "" {
		writeElement(&b, "Response", t.Response)
	}
	ts := t.TimeStamp
	if ts.IsZero() {
		ts = time.Now()
	}
	writeElement(&b, "TimeStamp", ts.UTC().Format(time.RFC3339))
	if t.Result != "" {
		b.WriteString("<Meta>")
		writeElement(&b, "Result", t.Result)
		b.WriteString("</Meta>")
	}
	b.WriteString("</trn:Transport>\n")
	return b.Bytes()
}

// Ack converts an ack or nak message into the acknowledgement it carries
func (t *Transport) Ack() types.Ack {
	return types.Ack{
		IVORN:     t.Origin,
		Accepted:  t.Role == TransportAck,
		Reason:    t.Result,
		Responder: t.Response,
		Timestamp: t.TimeStamp,
	}
}

// NewAckMessage builds the ack or nak frame payload for an acknowledgement
func NewAckMessage(ack types.Ack) []byte {
	role := TransportAck
	reason := ""
	if !ack.Accepted {
		role = TransportNak
		reason = ack.Reason
		if reason == "" {
			reason = "rejected"
		}
	}
	return Transport{
		Role:      role,
		Origin:    ack.IVORN,
		Response:  ack.Responder,
		TimeStamp: ack.Timestamp,
		Result:    reason,
	}.Encode()
}

// NewIAmAlive builds a keepalive originating from localIVO
func NewIAmAlive(localIVO string) []byte {
	return Transport{Role: TransportIAmAlive, Origin: localIVO}.Encode()
}

// NewIAmAliveReply answers a keepalive received from origin
func NewIAmAliveReply(origin, localIVO string) []byte {
	return Transport{Role: TransportIAmAlive, Origin: origin, Response: localIVO}.Encode()
}

// ParseTransport decodes a transport message
func ParseTransport(raw []byte) (*Transport, error) {
	var doc transportDoc
	if err := NewDecoder(raw).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode transport message: %w", err)
	}

	t := &Transport{
		Role:     TransportRole(strings.TrimSpace(doc.Role)),
		Origin:   strings.TrimSpace(doc.Origin),
		Response: strings.TrimSpace(doc.Response),
		Result:   strings.TrimSpace(doc.Meta.Result),
	}
	switch t.Role {
	case TransportAck, TransportNak, TransportIAmAlive:
	default:
		return nil, fmt.Errorf("unsupported transport role %q", doc.Role)
	}

	if ts := strings.TrimSpace(doc.TimeStamp); ts != "" {
		parsed, err := ParseDateTime(ts)
		if err != nil {
			return nil, fmt.Errorf("invalid transport timestamp: %w", err)
		}
		t.TimeStamp = parsed
	}
	return t, nil
}

func writeElement(b *bytes.Buffer, name, value string) {
	b.WriteString("<" + name + ">")
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString("</" + name + ">")
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
