package syntax

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// ErrOverlappingDispatch is returned when two dispatchers claim the same node kind.
var ErrOverlappingDispatch = errors.New("overlapping dispatch claims")

// ReadFunc lowers one node into a step.
type ReadFunc func(r *Reader, id graph.NodeID) Step

// Dispatcher claims a set of node kinds and lowers them.
type Dispatcher struct {
	Name  string
	Kinds []string
	Read  ReadFunc
}

// Registry is an immutable kind → lowering table for one language.
type Registry struct {
	language graph.Language
	table    map[string]ReadFunc
	owners   map[string]string
}

// NewRegistry builds a registry and rejects dispatchers with overlapping claims.
func NewRegistry(lang graph.Language, dispatchers ...Dispatcher) (*Registry, error) {
	reg := &Registry{
		language: lang,
		table:    make(map[string]ReadFunc),
		owners:   make(map[string]string),
	}
	var conflicts []string
	for _, d := range dispatchers {
		if d.Read == nil {
			return nil, fmt.Errorf("dispatcher %q for %s has no read function", d.Name, lang)
		}
		for _, kind := range d.Kinds {
			if owner, taken := reg.owners[kind]; taken {
				conflicts = append(conflicts, fmt.Sprintf("%s (%s, %s)", kind, owner, d.Name))
				continue
			}
			reg.owners[kind] = d.Name
			reg.table[kind] = d.Read
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, fmt.Errorf("%w for %s: %s", ErrOverlappingDispatch, lang, strings.Join(conflicts, ", "))
	}
	return reg, nil
}

// Language returns the language the registry lowers.
func (r *Registry) Language() graph.Language { return r.language }

// Claims reports whether some dispatcher claims kind.
func (r *Registry) Claims(kind string) bool {
	_, ok := r.table[kind]
	return ok
}

// Kinds returns the sorted claimed kinds.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.table))
	for k := range r.table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reader gives lowering functions access to the graph being lowered.
type Reader struct {
	Graph    *graph.Graph
	Language graph.Language
}

// Kind returns the kind of id.
func (r *Reader) Kind(id graph.NodeID) string { return r.Graph.Kind(id) }

// Text returns the source text of id.
func (r *Reader) Text(id graph.NodeID) string { return r.Graph.Content(id) }

// Field returns the child of id labelled field.
func (r *Reader) Field(id graph.NodeID, field string) graph.NodeID {
	return r.Graph.ChildByField(id, field)
}

// Named returns the children of id that are not punctuation or keywords.
func (r *Reader) Named(id graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, c := range r.Graph.Children(id) {
		if IsNamedKind(r.Graph.Kind(c)) {
			out = append(out, c)
		}
	}
	return out
}

// Unwrap skips parenthesized wrappers around an expression.
func (r *Reader) Unwrap(id graph.NodeID) graph.NodeID {
	for id != graph.NoNode && r.Kind(id) == "parenthesized_expression" {
		named := r.Named(id)
		if len(named) != 1 {
			return id
		}
		id = named[0]
	}
	return id
}

// IsNamedKind reports whether kind names a grammar rule rather than a token.
// Tree-sitter spells rule kinds with lowercase letters and underscores only.
func IsNamedKind(kind string) bool {
	if kind == "" {
		return false
	}
	for _, ch := range kind {
		if (ch < 'a' || ch > 'z') && ch != '_' {
			return false
		}
	}
	return !keywordKinds[kind]
}

// keywordKinds are anonymous tokens that look like rule names.
var keywordKinds = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "do": true, "return": true,
	"new": true, "try": true, "catch": true, "finally": true, "throw": true, "class": true,
	"def": true, "in": true, "import": true, "from": true, "as": true, "elif": true,
	"except": true, "with": true, "lambda": true, "function": true, "const": true,
	"let": true, "var": true, "case": true, "default": true, "switch": true, "break": true,
	"continue": true, "and": true, "or": true, "not": true, "is": true, "of": true,
	"raise": true, "pass": true, "async": true, "await": true, "yield": true, "static": true,
	"extends": true, "implements": true, "instanceof": true, "typeof": true, "match": true,
}

// Lower produces exactly one step for every node of g, visiting children
// before parents. Unclaimed kinds and failing readers degrade to NoOp.
func Lower(g *graph.Graph, reg *Registry, logger *zap.Logger) *Steps {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("lower")
	steps := &Steps{byNode: make([]Step, g.Len())}
	r := &Reader{Graph: g, Language: reg.language}
	for _, id := range g.PostOrder() {
		steps.byNode[id] = lowerOne(r, reg, id, log)
	}
	return steps
}

func lowerOne(r *Reader, reg *Registry, id graph.NodeID, log *zap.Logger) (st Step) {
	read, ok := reg.table[r.Kind(id)]
	if !ok {
		return &NoOp{Meta: Meta{ID: id}}
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Debug("Reader failed, lowering to NoOp.",
				zap.String("kind", r.Kind(id)),
				zap.Int32("node", int32(id)),
				zap.Any("panic", rec))
			st = &NoOp{Meta: Meta{ID: id}}
		}
	}()
	st = read(r, id)
	if st == nil || st.Node() != id {
		return &NoOp{Meta: Meta{ID: id}}
	}
	return st
}
