// Package soap parses inbound SOAP envelopes and formats outbound ones.
package soap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/anthonyacole/onvif-proxy/internal/xmltree"
	"github.com/beevik/etree"
)

// ErrParse marks a request that is not a usable SOAP envelope.
var ErrParse = errors.New("malformed SOAP envelope")

// Header is the raw content of <Header>.
type Header struct {
	RawXML string
}

// Body describes the content of <Body>.
type Body struct {
	Action    string // local name of the first child element; "" for probes
	Namespace string // namespace URI of the action element, when resolvable
	RawXML    string // serialized body subtree, suitable for verbatim forwarding
	Content   string // free text of the action element
}

// Envelope is a parsed SOAP message. It is not modified after Parse returns.
type Envelope struct {
	Header     *Header
	Body       Body
	Namespaces []Namespace // root declarations, then prefixed ones from Header and Body

	header *etree.Element
	body   *etree.Element
}

// Parse parses a SOAP envelope. A missing Header is tolerated; a missing Body
// or malformed document yields an error wrapping ErrParse.
func Parse(data string) (*Envelope, error) {
	doc, err := xmltree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	root := doc.Root()
	if root.Tag != "Envelope" {
		return nil, fmt.Errorf("%w: root element is <%s>, want <Envelope>", ErrParse, root.FullTag())
	}

	env := &Envelope{Namespaces: declaredNamespaces(root)}

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "Header":
			if env.header != nil {
				continue
			}
			raw, err := xmltree.InnerXML(child)
			if err != nil {
				return nil, fmt.Errorf("%w: header: %v", ErrParse, err)
			}
			env.header = child
			env.Header = &Header{RawXML: raw}
			env.Namespaces = MergeNamespaces(env.Namespaces, prefixedDeclarations(child))
		case "Body":
			if env.body == nil {
				env.body = child
				env.Namespaces = MergeNamespaces(env.Namespaces, prefixedDeclarations(child))
			}
		}
	}
	if env.body == nil {
		return nil, fmt.Errorf("%w: missing Body", ErrParse)
	}

	raw, err := xmltree.InnerXML(env.body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrParse, err)
	}
	env.Body.RawXML = raw

	if elems := env.body.ChildElements(); len(elems) > 0 {
		action := elems[0]
		env.Body.Action = action.Tag
		env.Body.Namespace = action.NamespaceURI()
		env.Body.Content = strings.TrimSpace(xmltree.Text(action))
	}

	return env, nil
}

// Value returns the trimmed text of the first Body descendant whose local name
// is local, regardless of prefix.
func (e *Envelope) Value(local string) (string, bool) {
	return findValue(e.body, local)
}

// HeaderValue is Value for the Header block.
func (e *Envelope) HeaderValue(local string) (string, bool) {
	return findValue(e.header, local)
}

func findValue(scope *etree.Element, local string) (string, bool) {
	if scope == nil {
		return "", false
	}
	for _, child := range scope.ChildElements() {
		if el := xmltree.Find(child, local); el != nil {
			return strings.TrimSpace(xmltree.Text(el)), true
		}
	}
	return "", false
}

func declaredNamespaces(el *etree.Element) []Namespace {
	var out []Namespace
	for _, d := range xmltree.Declarations(el) {
		out = append(out, Namespace{Prefix: d.Prefix, URI: d.URI})
	}
	return out
}

// prefixedDeclarations is declaredNamespaces without a default namespace, which
// would change the meaning of unprefixed content elsewhere once hoisted onto
// the Envelope.
func prefixedDeclarations(el *etree.Element) []Namespace {
	var out []Namespace
	for _, ns := range declaredNamespaces(el) {
		if ns.Prefix != "" {
			out = append(out, ns)
		}
	}
	return out
}

// Serialize formats an envelope: declaration, Envelope root carrying every
// supplied namespace, optional Header, then Body.
//
// The envelope prefix is taken from whichever declaration binds a SOAP
// envelope namespace; SOAP-ENV (SOAP 1.2) is added when none does.
func Serialize(namespaces []Namespace, header *Header, bodyXML string) string {
	prefix, namespaces := envelopePrefix(namespaces)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<" + qname(prefix, "Envelope"))
	for _, ns := range namespaces {
		if ns.Prefix == "" {
			b.WriteString(` xmlns="`)
		} else {
			b.WriteString(` xmlns:` + ns.Prefix + `="`)
		}
		b.WriteString(escapeAttr(ns.URI))
		b.WriteString(`"`)
	}
	b.WriteString(">")

	if header != nil {
		b.WriteString("<" + qname(prefix, "Header") + ">")
		b.WriteString(header.RawXML)
		b.WriteString("</" + qname(prefix, "Header") + ">")
	}

	b.WriteString("<" + qname(prefix, "Body") + ">")
	b.WriteString(bodyXML)
	b.WriteString("</" + qname(prefix, "Body") + ">")
	b.WriteString("</" + qname(prefix, "Envelope") + ">")

	return b.String()
}

func envelopePrefix(namespaces []Namespace) (string, []Namespace) {
	for _, ns := range namespaces {
		if ns.URI == NamespaceSOAP12 || ns.URI == NamespaceSOAP11 {
			return ns.Prefix, namespaces
		}
	}
	out := make([]Namespace, 0, len(namespaces)+1)
	out = append(out, Namespace{Prefix: "SOAP-ENV", URI: NamespaceSOAP12})
	return "SOAP-ENV", append(out, namespaces...)
}

func qname(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

func escapeAttr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// EnsureDeclaration prefixes xml with an XML declaration when it has none.
func EnsureDeclaration(data string) string {
	if strings.HasPrefix(strings.TrimLeft(data, " \t\r\n\uFEFF"), "<?xml") {
		return data
	}
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + data
}
