// Package rules loads and validates the catalog of taint rules: per rule, the
// CWE mapping and the per-language source, sink and propagator tables.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// ErrInvalidCatalog marks a catalog that cannot be used. A run cannot proceed without one.
var ErrInvalidCatalog = errors.New("invalid rule catalog")

// ErrUnknownRule is returned when a selected rule id is not in the catalog.
var ErrUnknownRule = errors.New("unknown rule")

//go:embed default.yaml
var defaultCatalog []byte

// Kinds of vulnerability a rule reports.
const (
	KindLines  = "lines"
	KindInputs = "inputs"
)

// Catalog is the set of rules of a run.
type Catalog struct {
	Rules []Rule `yaml:"rules"`
	// Propagators lists, per language, method names that carry danger from
	// their receiver or arguments to their result for every rule.
	Propagators map[graph.Language][]string `yaml:"propagators"`

	index map[string]int
}

// Rule is one taint rule.
type Rule struct {
	ID          string                     `yaml:"id"`
	Title       string                     `yaml:"title"`
	CWE         []string                   `yaml:"cwe"`
	Kind        string                     `yaml:"kind"`
	Description string                     `yaml:"description"`
	Languages   map[graph.Language]Profile `yaml:"languages"`
}

// Profile is the language-specific part of a rule.
type Profile struct {
	Sources     Sources  `yaml:"sources"`
	Sinks       []Sink   `yaml:"sinks"`
	Propagators []string `yaml:"propagators"`
}

// Sources lists the constructs that produce untrusted input.
type Sources struct {
	// Types marks declarations and parameters of these types.
	Types []string `yaml:"types"`
	// Methods marks calls to these methods, bare or dotted-suffix names.
	Methods []string `yaml:"methods"`
	// Instantiations marks creations of these types.
	Instantiations []string `yaml:"instantiations"`
	// Members marks reads of these dotted member paths.
	Members []string `yaml:"members"`
}

// Sink is one dangerous construct. Exactly one of Method, Instantiation and
// Assignment is set. Args lists the consumed argument positions; empty means all.
type Sink struct {
	Method        string `yaml:"method,omitempty"`
	Instantiation string `yaml:"instantiation,omitempty"`
	Assignment    string `yaml:"assignment,omitempty"`
	Args          []int  `yaml:"args,omitempty"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidCatalog, path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog's structure and builds its index.
func (c *Catalog) Validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: no rules defined", ErrInvalidCatalog)
	}
	known := make(map[graph.Language]bool)
	for _, l := range graph.Languages() {
		known[l] = true
	}
	for lang := range c.Propagators {
		if !known[lang] {
			return fmt.Errorf("%w: propagators for unknown language %q", ErrInvalidCatalog, lang)
		}
	}
	c.index = make(map[string]int, len(c.Rules))
	for i := range c.Rules {
		r := &c.Rules[i]
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: rule #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.index[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidCatalog, r.ID)
		}
		if len(r.CWE) == 0 {
			return fmt.Errorf("%w: rule %s has no CWE mapping", ErrInvalidCatalog, r.ID)
		}
		switch r.Kind {
		case "":
			r.Kind = KindLines
		case KindLines, KindInputs:
		default:
			return fmt.Errorf("%w: rule %s has unknown kind %q", ErrInvalidCatalog, r.ID, r.Kind)
		}
		sinks := 0
		for lang, p := range r.Languages {
			if !known[lang] {
				return fmt.Errorf("%w: rule %s targets unknown language %q", ErrInvalidCatalog, r.ID, lang)
			}
			for j, s := range p.Sinks {
				if countSet(s.Method, s.Instantiation, s.Assignment) != 1 {
					return fmt.Errorf("%w: rule %s sink #%d for %s must set exactly one of method, instantiation, assignment",
						ErrInvalidCatalog, r.ID, j, lang)
				}
				for _, a := range s.Args {
					if a < 0 {
						return fmt.Errorf("%w: rule %s sink #%d has a negative argument index", ErrInvalidCatalog, r.ID, j)
					}
				}
			}
			sinks += len(p.Sinks)
		}
		if sinks == 0 {
			return fmt.Errorf("%w: rule %s defines no sinks", ErrInvalidCatalog, r.ID)
		}
		c.index[r.ID] = i
	}
	return nil
}

// Rule returns the rule with id.
func (c *Catalog) Rule(id string) (*Rule, bool) {
	if c.index == nil {
		return nil, false
	}
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return &c.Rules[i], true
}

// IDs returns the rule ids in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.Rules))
	for _, r := range c.Rules {
		out = append(out, r.ID)
	}
	return out
}

// Select returns the sorted ids to run. An empty selection means every rule.
func (c *Catalog) Select(ids []string) ([]string, error) {
	if len(ids) == 0 {
		out := c.IDs()
		sort.Strings(out)
		return out, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		if _, ok := c.Rule(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Profile returns the rule's profile for lang.
func (r *Rule) Profile(lang graph.Language) (Profile, bool) {
	p, ok := r.Languages[lang]
	return p, ok
}

// Propagates reports whether method carries danger for rule in lang.
func (c *Catalog) Propagates(r *Rule, lang graph.Language, method string) bool {
	if method == "" {
		return false
	}
	for _, p := range c.Propagators[lang] {
		if p == method {
			return true
		}
	}
	if p, ok := r.Profile(lang); ok {
		for _, name := range p.Propagators {
			if name == method {
				return true
			}
		}
	}
	return false
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}
