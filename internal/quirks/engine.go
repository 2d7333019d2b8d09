// Package quirks repairs camera responses with per-model rule pipelines.
//
// Every rule edits an etree document in place. A pipeline parses the camera
// response once, runs its rules in order and serializes once.
package quirks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/anthonyacole/onvif-proxy/internal/xmltree"
	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// Rule is one named, stateless document edit. Applying a rule to its own
// output must not change the document further.
type Rule struct {
	Name  string
	Apply func(doc *etree.Document) error
}

// RuleSet maps quirk names to rules for one camera model.
type RuleSet map[string]Rule

// Registry maps camera model names to rule sets. Register everything before
// the registry is shared; lookups are not synchronized.
type Registry struct {
	models map[string]RuleSet
	log    *zap.Logger
}

// NewRegistry returns a registry with the built-in models.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		models: make(map[string]RuleSet),
		log:    log.Named("quirks"),
	}
	r.Register(ModelReolink, ReolinkRules())
	return r
}

func (r *Registry) Register(model string, set RuleSet) {
	r.models[strings.ToLower(model)] = set
}

// Models lists registered model names, sorted.
func (r *Registry) Models() []string {
	out := make([]string, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the pipeline for one camera. Unknown models and unknown quirk
// names are logged and skipped. Configured translation rules run after the
// model's quirks, in order; a rule that fails to compile is an error.
func (r *Registry) Resolve(model string, quirkNames []string, extra []TranslationRule) (*Pipeline, error) {
	p := &Pipeline{model: model}

	set, ok := r.models[strings.ToLower(model)]
	if !ok && len(quirkNames) > 0 {
		r.log.Warn("unknown camera model, responses pass through untranslated",
			zap.String("model", model), zap.Strings("quirks", quirkNames))
	}
	if ok {
		for _, name := range quirkNames {
			rule, found := set[name]
			if !found {
				r.log.Warn("unknown quirk skipped", zap.String("model", model), zap.String("quirk", name))
				continue
			}
			p.rules = append(p.rules, rule)
		}
	}

	for _, tr := range extra {
		rule, err := tr.Compile()
		if err != nil {
			return nil, err
		}
		p.rules = append(p.rules, rule)
	}

	return p, nil
}

// Translate resolves a pipeline for model and quirkNames and applies it to xml.
func (r *Registry) Translate(xml, model string, quirkNames []string) (string, error) {
	p, err := r.Resolve(model, quirkNames, nil)
	if err != nil {
		return "", err
	}
	return p.Translate(xml)
}

// Pipeline is the resolved, ordered rule list of one camera. Immutable.
type Pipeline struct {
	model string
	rules []Rule
}

func (p *Pipeline) Model() string { return p.model }

// Rules returns the names of the resolved rules in application order.
func (p *Pipeline) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// Translate runs the pipeline, followed by extra, over xml. With nothing to
// run the input is returned unchanged without being parsed.
func (p *Pipeline) Translate(xml string, extra ...Rule) (string, error) {
	if p == nil {
		p = &Pipeline{}
	}
	if len(p.rules) == 0 && len(extra) == 0 {
		return xml, nil
	}

	doc, err := xmltree.Parse(xml)
	if err != nil {
		return "", fmt.Errorf("parse camera response: %w", err)
	}

	for _, rules := range [][]Rule{p.rules, extra} {
		for _, rule := range rules {
			if err := rule.Apply(doc); err != nil {
				return "", fmt.Errorf("rule %s: %w", rule.Name, err)
			}
		}
	}

	out, err := xmltree.String(doc)
	if err != nil {
		return "", fmt.Errorf("serialize translated response: %w", err)
	}
	return out, nil
}
