package validator

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/types"
)

// VOEventNamespace is the VOEvent 2.0 XML namespace
const VOEventNamespace = "http://www.ivoa.net/xml/VOEvent/v2.0"

// ErrSchema prefixes every structural rejection
var ErrSchema = errors.New("schema violation")

// topLevel is the permitted order of VOEvent children. Elements flagged
// repeatable may occur more than once.
var topLevel = []struct {
	name       string
	repeatable bool
}{
	{"Who", false},
	{"What", false},
	{"WhereWhen", false},
	{"How", false},
	{"Why", false},
	{"Citations", false},
	{"Description", true},
	{"Reference", true},
}

// SchemaValidator performs a fixed structural check of a VOEvent 2.0 document
type SchemaValidator struct{}

// NewSchemaValidator returns the structural VOEvent validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

func (s *SchemaValidator) Name() string { return "schema" }

func (s *SchemaValidator) Validate(_ context.Context, ev *types.Event) error {
	return ValidatePayload(ev.Raw)
}

// ValidatePayload reports whether raw is a structurally valid VOEvent. It is
// a pure function of the payload.
func ValidatePayload(raw []byte) error {
	w := &schemaWalker{last: -1}
	d := protocol.NewDecoder(raw)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: malformed XML: %v", ErrSchema, err)
		}
		if err := w.token(tok); err != nil {
			return err
		}
	}
	if !w.sawRoot {
		return fmt.Errorf("%w: no VOEvent element", ErrSchema)
	}
	return nil
}

type schemaWalker struct {
	path    []string
	sawRoot bool
	last    int             // Index in topLevel of the previous child
	seen    map[string]bool // Non-repeatable children already present
	text    strings.Builder
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

func (w *schemaWalker) token(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		if err := w.start(t); err != nil {
			return err
		}
		w.path = append(w.path, t.Name.Local)
		w.text.Reset()
	case xml.EndElement:
		if err := w.end(); err != nil {
			return err
		}
		w.path = w.path[:len(w.path)-1]
	case xml.CharData:
		if len(w.path) == 0 {
			if len(strings.TrimSpace(string(t))) > 0 {
				return violation("text outside the root element")
			}
			return nil
		}
		w.text.Write(t)
	}
	return nil
}

func (w *schemaWalker) start(el xml.StartElement) error {
	switch len(w.path) {
	case 0:
		if w.sawRoot {
			return violation("more than one root element")
		}
		w.sawRoot = true
		return checkRoot(el)
	case 1:
		return w.child(el.Name.Local)
	}

	parent := w.path[len(w.path)-1]
	switch {
	case el.Name.Local == "Param" && w.path[1] == "What":
		if strings.TrimSpace(attr(el, "name")) == "" {
			return violation("Param without a name")
		}
	case el.Name.Local == "EventIVORN" && parent == "Citations":
		cite := types.CiteType(strings.TrimSpace(attr(el, "cite")))
		if !cite.Valid() {
			return violation("EventIVORN cite %q is not one of followup, supersedes, retraction", cite)
		}
	}
	return nil
}

func (w *schemaWalker) end() error {
	if len(w.path) != 3 {
		return nil
	}
	value := strings.TrimSpace(w.text.String())
	switch {
	case w.path[1] == "Who" && w.path[2] == "Date":
		if _, err := protocol.ParseDateTime(value); err != nil {
			return violation("Who/Date %q is not an ISO-8601 dateTime", value)
		}
	case w.path[1] == "Citations" && w.path[2] == "EventIVORN":
		if types.Authority(value) == "" {
			return violation("cited EventIVORN %q is not an ivo:// identifier", value)
		}
	}
	return nil
}

func (w *schemaWalker) child(name string) error {
	idx := -1
	for i, el := range topLevel {
		if el.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return violation("unexpected element <%s> in VOEvent", name)
	}
	if idx < w.last {
		return violation("element <%s> out of order", name)
	}
	if !topLevel[idx].repeatable {
		if w.seen == nil {
			w.seen = make(map[string]bool)
		}
		if w.seen[name] {
			return violation("element <%s> occurs more than once", name)
		}
		w.seen[name] = true
	}
	w.last = idx
	return nil
}

func checkRoot(el xml.StartElement) error {
	if el.Name.Local != "VOEvent" {
		return violation("root element is <%s>, not VOEvent", el.Name.Local)
	}
	if ns := el.Name.Space; ns != "" && ns != VOEventNamespace {
		return violation("VOEvent namespace %q is not %s", ns, VOEventNamespace)
	}

	ivorn := strings.TrimSpace(attr(el, "ivorn"))
	if ivorn == "" {
		return violation("missing ivorn attribute")
	}
	if types.Authority(ivorn) == "" {
		return violation("ivorn %q is not an ivo:// identifier", ivorn)
	}

	role := types.Role(strings.TrimSpace(attr(el, "role")))
	if !role.Valid() {
		return violation("role %q is not one of observation, prediction, utility, test", role)
	}

	if v := strings.TrimSpace(attr(el, "version")); v != "2.0" {
		return violation("version %q is not 2.0", v)
	}
	return nil
}

// attr returns the value of the unqualified attribute name
func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name && a.Name.Space == "" {
			return a.Value
		}
	}
	return ""
}
