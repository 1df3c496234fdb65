package syntax_test

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/lang"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// fuzzKinds mixes kinds claimed by the readers of every language with
// punctuation, so readers see malformed shapes.
var fuzzKinds = []string{
	"program", "module", "expression_statement", "identifier", "string", "integer",
	"method_invocation", "call", "call_expression", "argument_list", "arguments",
	"assignment", "assignment_expression", "local_variable_declaration", "variable_declarator",
	"binary_expression", "binary_operator", "field_access", "attribute", "member_expression",
	"subscript", "subscript_expression", "array_access", "object_creation_expression",
	"new_expression", "return_statement", "function_definition", "method_declaration",
	"function_declaration", "formal_parameter", "parameters", "lambda", "dictionary",
	"object", "pair", "parenthesized_expression", "for_statement", "for_in_statement",
	"enhanced_for_statement", "catch_clause", "except_clause", "with_statement",
	"(", ")", ",", ".", "=", "+",
}

var fuzzFields = []string{"", "name", "function", "object", "arguments", "left", "right", "value", "body", "type", "declarator"}

// buildGraph derives a tree from fuzz data: every node hangs off an earlier one.
func buildGraph(data []byte) (*graph.Graph, bool) {
	c := fuzz.NewConsumer(data)
	n, err := c.GetInt()
	if err != nil {
		return nil, false
	}
	n = 1 + abs(n)%96

	b := graph.NewBuilder(nil)
	for i := 0; i < n; i++ {
		kind, err1 := c.GetInt()
		field, err2 := c.GetInt()
		text, err3 := c.GetString()
		if err1 != nil || err2 != nil || err3 != nil {
			break
		}
		parent := graph.NoNode
		if i > 0 {
			p, err := c.GetInt()
			if err != nil {
				break
			}
			parent = graph.NodeID(abs(p) % i)
		}
		b.Add(parent, graph.Node{
			Kind:   fuzzKinds[abs(kind)%len(fuzzKinds)],
			Field:  fuzzFields[abs(field)%len(fuzzFields)],
			Text:   text,
			Line:   i + 1,
			Column: 1,
		})
	}
	g := b.Build()
	return g, g.Len() > 0
}

func abs(n int) int {
	if n < 0 {
		if n == -n {
			return 0
		}
		return -n
	}
	return n
}

func FuzzLower(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("\x00\x00\x00\x08identifier call argument_list integer"))
	f.Add([]byte("seed corpus for the lowering pass with several nodes and strings"))

	set, err := lang.NewSet()
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		g, ok := buildGraph(data)
		if !ok {
			return
		}
		for _, l := range graph.Languages() {
			support, _ := set.For(l)
			steps := syntax.Lower(g, support.Readers, nil)
			if steps.Len() != g.Len() {
				t.Fatalf("%s: %d steps for %d nodes", l, steps.Len(), g.Len())
			}
			for id := graph.NodeID(0); int(id) < g.Len(); id++ {
				st := steps.At(id)
				if st == nil || st.Node() != id {
					t.Fatalf("%s: node %d lowered to %v", l, id, st)
				}
				for _, dep := range st.Deps() {
					if dep != graph.NoNode && !g.Valid(dep) {
						t.Fatalf("%s: node %d depends on unknown node %d", l, id, dep)
					}
				}
			}
		}
	})
}
