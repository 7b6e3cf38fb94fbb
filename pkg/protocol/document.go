package protocol

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/cuemby/comet/pkg/types"
)

// Kind is the type of document carried by a frame
type Kind int

const (
	KindUnknown Kind = iota
	KindVOEvent
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindVOEvent:
		return "voevent"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ErrUnknownDocument is returned for well-formed XML whose root is neither
// a VOEvent nor a transport message
var ErrUnknownDocument = errors.New("unknown document type")

// dateTimeLayouts are the xs:dateTime renderings seen in VOEvent Who/Date
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

type voeventDoc struct {
	XMLName   xml.Name      `xml:"VOEvent"`
	IVORN     string        `xml:"ivorn,attr"`
	Role      string        `xml:"role,attr"`
	Version   string        `xml:"version,attr"`
	Who       *whoDoc       `xml:"Who"`
	What      *whatDoc      `xml:"What"`
	Citations *citationsDoc `xml:"Citations"`
}

type whoDoc struct {
	AuthorIVORN string `xml:"AuthorIVORN"`
	Date        string `xml:"Date"`
}

type whatDoc struct {
	Params []paramDoc `xml:"Param"`
	Groups []groupDoc `xml:"Group"`
}

type groupDoc struct {
	Name   string     `xml:"name,attr"`
	Params []paramDoc `xml:"Param"`
}

type paramDoc struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Unit  string `xml:"unit,attr"`
	UCD   string `xml:"ucd,attr"`
}

type citationsDoc struct {
	EventIVORNs []eventIVORNDoc `xml:"EventIVORN"`
}

type eventIVORNDoc struct {
	Cite  string `xml:"cite,attr"`
	Value string `xml:",chardata"`
}

// NewDecoder returns a strict XML decoder over raw that understands any
// IANA-registered character encoding named in the XML declaration.
func NewDecoder(raw []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(raw))
	d.CharsetReader = charsetReader
	return d
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

// Classify reports which kind of document raw holds by looking at its root element
func Classify(raw []byte) (Kind, error) {
	d := NewDecoder(raw)
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return KindUnknown, fmt.Errorf("no root element")
			}
			return KindUnknown, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "VOEvent":
			return KindVOEvent, nil
		case "Transport":
			return KindTransport, nil
		default:
			return KindUnknown, fmt.Errorf("%w: <%s>", ErrUnknownDocument, start.Name.Local)
		}
	}
}

// ParseEvent decodes a VOEvent document into an Event. Parsing is lenient:
// only a missing IVORN or malformed XML is an error, everything else is left
// for the schema validator to judge.
func ParseEvent(raw []byte, source string, receivedAt time.Time) (*types.Event, error) {
	var doc voeventDoc
	if err := NewDecoder(raw).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode VOEvent: %w", err)
	}

	ivorn := strings.TrimSpace(doc.IVORN)
	if ivorn == "" {
		return nil, fmt.Errorf("VOEvent has no ivorn attribute")
	}

	ev := &types.Event{
		Raw:        raw,
		IVORN:      ivorn,
		Role:       types.Role(strings.TrimSpace(doc.Role)),
		Version:    strings.TrimSpace(doc.Version),
		Source:     source,
		ReceivedAt: receivedAt,
	}

	if doc.Who != nil {
		ev.Author = strings.TrimSpace(doc.Who.AuthorIVORN)
		if date := strings.TrimSpace(doc.Who.Date); date != "" {
			if ts, err := ParseDateTime(date); err == nil {
				ev.Timestamp = ts
			}
		}
	}

	if doc.What != nil {
		for _, p := range doc.What.Params {
			ev.Params = append(ev.Params, toParam("", p))
		}
		for _, g := range doc.What.Groups {
			for _, p := range g.Params {
				ev.Params = append(ev.Params, toParam(g.Name, p))
			}
		}
	}

	if doc.Citations != nil {
		for _, c := range doc.Citations.EventIVORNs {
			ev.Citations = append(ev.Citations, types.Citation{
				IVORN: strings.TrimSpace(c.Value),
				Cite:  types.CiteType(strings.TrimSpace(c.Cite)),
			})
		}
	}

	return ev, nil
}

// ParseDateTime parses an xs:dateTime; values without a zone are taken as UTC
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid dateTime %q", s)
}

func toParam(group string, p paramDoc) types.Param {
	return types.Param{
		Group: group,
		Name:  p.Name,
		Value: p.Value,
		Unit:  p.Unit,
		UCD:   p.UCD,
	}
}
