// Package xmltree holds the etree helpers shared by the SOAP codec, the quirks
// engine and the event engine.
package xmltree

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/beevik/etree"
)

// ErrEmpty is returned by Parse when the input has no root element.
var ErrEmpty = errors.New("no root element")

// Parse reads s into an etree document.
//
// etree tokenizes with RawToken, which does not check that start and end tags
// match, so s is first run through a strict encoding/xml pass.
func Parse(s string) (*etree.Document, error) {
	if err := wellFormed(s); err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = passthroughCharset
	if err := doc.ReadFromString(s); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, ErrEmpty
	}
	return doc, nil
}

func wellFormed(s string) error {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.CharsetReader = passthroughCharset
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Cameras label ASCII-compatible payloads with assorted charsets.
func passthroughCharset(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}

// String serializes doc.
func String(doc *etree.Document) (string, error) {
	return doc.WriteToString()
}

// InnerXML serializes the children of el (elements, text, comments) without el
// itself. Namespace declarations made on el are repeated on each top-level child
// element that does not bind the same prefix, so the result stays resolvable
// once lifted out of el.
func InnerXML(el *etree.Element) (string, error) {
	decls := Declarations(el)
	tmp := etree.NewDocument()
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			c := t.Copy()
			for _, d := range decls {
				if !bindsOwn(c, d.Prefix) {
					c.CreateAttr(xmlnsAttr(d.Prefix), d.URI)
				}
			}
			tmp.AddChild(c)
		case *etree.CharData:
			tmp.AddChild(etree.NewText(t.Data))
		case *etree.Comment:
			tmp.AddChild(etree.NewComment(t.Data))
		}
	}
	return tmp.WriteToString()
}

// Decl is one xmlns attribute. Prefix is empty for the default namespace.
type Decl struct {
	Prefix string
	URI    string
}

// Declarations lists the namespace declarations made on el itself.
func Declarations(el *etree.Element) []Decl {
	var out []Decl
	for _, a := range el.Attr {
		switch {
		case a.Space == "xmlns":
			out = append(out, Decl{Prefix: a.Key, URI: a.Value})
		case a.Space == "" && a.Key == "xmlns":
			out = append(out, Decl{URI: a.Value})
		}
	}
	return out
}

func bindsOwn(el *etree.Element, prefix string) bool {
	for _, d := range Declarations(el) {
		if d.Prefix == prefix {
			return true
		}
	}
	return false
}

func xmlnsAttr(prefix string) string {
	if prefix == "" {
		return "xmlns"
	}
	return "xmlns:" + prefix
}

// OuterXML serializes el including its own start and end tags.
func OuterXML(el *etree.Element) (string, error) {
	tmp := etree.NewDocument()
	tmp.AddChild(el.Copy())
	return tmp.WriteToString()
}

// Walk visits el and every descendant element in document order.
func Walk(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		Walk(child, fn)
	}
}

// Find returns the first element in el's subtree (el included) with the given
// local name, or nil.
func Find(el *etree.Element, local string) *etree.Element {
	if el.Tag == local {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := Find(child, local); found != nil {
			return found
		}
	}
	return nil
}

// Text returns the concatenated character data of el's subtree.
func Text(el *etree.Element) string {
	var b strings.Builder
	var collect func(*etree.Element)
	collect = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				collect(t)
			}
		}
	}
	collect(el)
	return b.String()
}

// Declares reports whether any element of the tree rooted at root declares
// xmlns:prefix.
func Declares(root *etree.Element, prefix string) bool {
	found := false
	Walk(root, func(e *etree.Element) {
		if found {
			return
		}
		for _, a := range e.Attr {
			if a.Space == "xmlns" && a.Key == prefix {
				found = true
				return
			}
		}
	})
	return found
}

// Declare adds xmlns:prefix="uri" to root unless the tree already declares
// the prefix. Reports whether a declaration was added.
func Declare(root *etree.Element, prefix, uri string) bool {
	if Declares(root, prefix) {
		return false
	}
	root.CreateAttr("xmlns:"+prefix, uri)
	return true
}

// UsesPrefix reports whether any element or attribute name in the tree uses prefix.
func UsesPrefix(root *etree.Element, prefix string) bool {
	found := false
	Walk(root, func(e *etree.Element) {
		if found {
			return
		}
		if e.Space == prefix {
			found = true
			return
		}
		for _, a := range e.Attr {
			if a.Space == prefix {
				found = true
				return
			}
		}
	})
	return found
}

// MentionsPrefix reports whether prefix appears as a QName prefix inside any
// text node or attribute value (e.g. topic expressions like "tns1:RuleEngine/...").
func MentionsPrefix(root *etree.Element, prefix string) bool {
	needle := prefix + ":"
	found := false
	Walk(root, func(e *etree.Element) {
		if found {
			return
		}
		for _, tok := range e.Child {
			if cd, ok := tok.(*etree.CharData); ok && hasQNamePrefix(cd.Data, needle) {
				found = true
				return
			}
		}
		for _, a := range e.Attr {
			if a.Space != "xmlns" && hasQNamePrefix(a.Value, needle) {
				found = true
				return
			}
		}
	})
	return found
}

// hasQNamePrefix reports whether needle ("p:") occurs in s at the start of a
// name, so "tt:" matches "tt:Foo" and "x tt:Foo" but not "Watt:5".
func hasQNamePrefix(s, needle string) bool {
	for off := 0; ; {
		i := strings.Index(s[off:], needle)
		if i < 0 {
			return false
		}
		i += off
		if i == 0 || !isNameByte(s[i-1]) {
			return true
		}
		off = i + 1
	}
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// MapText rewrites every non-whitespace text node of the tree with fn.
func MapText(root *etree.Element, fn func(string) string) {
	Walk(root, func(e *etree.Element) {
		for _, tok := range e.Child {
			cd, ok := tok.(*etree.CharData)
			if !ok || strings.TrimSpace(cd.Data) == "" {
				continue
			}
			if out := fn(cd.Data); out != cd.Data {
				cd.Data = out
			}
		}
	})
}

// MapAttrValues rewrites every non-namespace attribute value of the tree with fn.
func MapAttrValues(root *etree.Element, fn func(string) string) {
	Walk(root, func(e *etree.Element) {
		for i := range e.Attr {
			if e.Attr[i].Space == "xmlns" || (e.Attr[i].Space == "" && e.Attr[i].Key == "xmlns") {
				continue
			}
			e.Attr[i].Value = fn(e.Attr[i].Value)
		}
	})
}
