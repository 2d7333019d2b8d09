package quirks

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anthonyacole/onvif-proxy/internal/soap"
	"github.com/anthonyacole/onvif-proxy/internal/xmltree"
	"github.com/beevik/etree"
)

// RuleKind selects how a TranslationRule edits a document.
type RuleKind string

const (
	// KindLiteral replaces Pattern with Replacement in text and attribute values.
	KindLiteral RuleKind = "literal_replace"
	// KindRegex is KindLiteral with Pattern as a regular expression; Replacement
	// may reference groups ($1).
	KindRegex RuleKind = "regex_replace"
	// KindNamespace declares xmlns:Pattern="Replacement" on the root when the
	// prefix is not declared anywhere.
	KindNamespace RuleKind = "namespace_add"
	// KindTopic rewrites topic expressions and makes sure tns1 is declared.
	KindTopic RuleKind = "topic_map"
)

var ErrInvalidRule = errors.New("invalid translation rule")

// TranslationRule is a deployment-configured rewrite, compiled once into a Rule.
type TranslationRule struct {
	Name        string   `yaml:"name" json:"name"`
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Replacement string   `yaml:"replacement" json:"replacement"`
	Kind        RuleKind `yaml:"kind" json:"kind"`
}

// Compile validates the rule and returns its document edit.
func (t TranslationRule) Compile() (Rule, error) {
	name := t.Name
	if name == "" {
		name = string(t.Kind)
	}
	if t.Pattern == "" {
		return Rule{}, fmt.Errorf("%w %q: empty pattern", ErrInvalidRule, name)
	}

	switch t.Kind {
	case KindLiteral:
		return Rule{Name: name, Apply: mapValues(func(s string) string {
			return strings.ReplaceAll(s, t.Pattern, t.Replacement)
		})}, nil

	case KindRegex:
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("%w %q: %v", ErrInvalidRule, name, err)
		}
		return Rule{Name: name, Apply: mapValues(func(s string) string {
			return re.ReplaceAllString(s, t.Replacement)
		})}, nil

	case KindNamespace:
		if t.Replacement == "" {
			return Rule{}, fmt.Errorf("%w %q: namespace URI required", ErrInvalidRule, name)
		}
		return Rule{Name: name, Apply: func(doc *etree.Document) error {
			if root := doc.Root(); root != nil {
				xmltree.Declare(root, t.Pattern, t.Replacement)
			}
			return nil
		}}, nil

	case KindTopic:
		replace := mapValues(func(s string) string {
			return strings.ReplaceAll(s, t.Pattern, t.Replacement)
		})
		return Rule{Name: name, Apply: func(doc *etree.Document) error {
			if err := replace(doc); err != nil {
				return err
			}
			declareUsed(doc.Root(), binding{"tns1", soap.NamespaceTopics})
			return nil
		}}, nil

	default:
		return Rule{}, fmt.Errorf("%w %q: unknown kind %q", ErrInvalidRule, name, t.Kind)
	}
}

func mapValues(fn func(string) string) func(*etree.Document) error {
	return func(doc *etree.Document) error {
		root := doc.Root()
		if root == nil {
			return nil
		}
		xmltree.MapText(root, fn)
		xmltree.MapAttrValues(root, fn)
		return nil
	}
}
