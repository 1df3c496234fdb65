package python

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/cfg"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// Walkers returns the Python function roots and statement link dispatchers.
func Walkers() (cfg.Roots, []cfg.Dispatcher) {
	roots := cfg.Roots{
		Kinds: []string{"module", "function_definition", "lambda"},
		Body:  functionBody,
		Name: func(g *graph.Graph, id graph.NodeID) string {
			switch g.Kind(id) {
			case "module":
				return "<module>"
			case "lambda":
				return "lambda"
			}
			return g.Content(g.ChildByField(id, "name"))
		},
	}
	return roots, []cfg.Dispatcher{
		{Name: "block", Kinds: []string{"block"}, Link: func(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
			l.Block(id, next)
		}},
		{Name: "if", Kinds: []string{"if_statement"}, Link: linkIf},
		{Name: "loop", Kinds: []string{"for_statement", "while_statement"}, Link: linkLoop},
		{Name: "try", Kinds: []string{"try_statement"}, Link: linkTry},
		{Name: "handler", Kinds: []string{"except_clause", "except_group_clause", "finally_clause", "else_clause"}, Link: linkClause},
		{Name: "with", Kinds: []string{"with_statement"}, Link: linkWith},
		{Name: "match", Kinds: []string{"match_statement"}, Link: linkMatch},
		{Name: "terminal", Kinds: []string{"return_statement", "raise_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Return(id)
		}},
		{Name: "break", Kinds: []string{"break_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Break(id)
		}},
		{Name: "continue", Kinds: []string{"continue_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Continue(id)
		}},
	}
}

func functionBody(g *graph.Graph, id graph.NodeID) []graph.NodeID {
	switch g.Kind(id) {
	case "module":
		return statements(g, id)
	case "lambda":
		if body := g.ChildByField(id, "body"); body != graph.NoNode {
			return []graph.NodeID{body}
		}
		return nil
	}
	return statements(g, g.ChildByField(id, "body"))
}

func statements(g *graph.Graph, block graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, c := range g.Children(block) {
		kind := g.Kind(c)
		if kind != "" && kind != "comment" && kind != ":" && kind != ";" {
			out = append(out, c)
		}
	}
	return out
}

func linkIf(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	if cons := g.ChildByField(id, "consequence"); cons != graph.NoNode {
		l.Edge(id, cons)
		l.Link(cons, next)
	}
	linkAlternatives(l, id, g.ChildrenOfKind(id, "elif_clause", "else_clause"), next)
}

func linkAlternatives(l *cfg.Linker, from graph.NodeID, alts []graph.NodeID, next []graph.NodeID) {
	if len(alts) == 0 {
		l.Edges(from, next)
		return
	}
	g := l.Graph()
	alt := alts[0]
	l.Own(alt)
	l.Edge(from, alt)
	if g.Kind(alt) == "else_clause" {
		linkBody(l, alt, next)
		return
	}
	if cons := g.ChildByField(alt, "consequence"); cons != graph.NoNode {
		l.Edge(alt, cons)
		l.Link(cons, next)
	}
	linkAlternatives(l, alt, alts[1:], next)
}

func linkLoop(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	after := next
	if alt := g.ChildByField(id, "alternative"); alt != graph.NoNode {
		l.Own(alt)
		linkBody(l, alt, next)
		after = []graph.NodeID{alt}
	}
	l.Loop(id, graph.NoNode, g.ChildByField(id, "body"), graph.NoNode, after)
}

func linkTry(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	l.Try(id,
		g.ChildByField(id, "body"),
		g.ChildrenOfKind(id, "except_clause", "except_group_clause"),
		g.FirstChildOfKind(id, "finally_clause"),
		next)
}

// linkClause links a clause to the block it wraps.
func linkClause(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	linkBody(l, id, next)
}

func linkBody(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	body := g.ChildByField(id, "body")
	if body == graph.NoNode {
		body = g.FirstChildOfKind(id, "block")
	}
	if body == graph.NoNode {
		l.Edges(id, next)
		return
	}
	l.Edge(id, body)
	l.Link(body, next)
}

func linkWith(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	linkBody(l, id, next)
}

func linkMatch(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	clauses := g.ChildrenOfKind(id, "case_clause")
	if body := g.ChildByField(id, "body"); body != graph.NoNode {
		clauses = append(clauses, g.ChildrenOfKind(body, "case_clause")...)
	}
	var cases []cfg.Case
	for _, c := range clauses {
		sc := cfg.Case{Node: c}
		if cons := g.ChildByField(c, "consequence"); cons != graph.NoNode {
			sc.Statements = []graph.NodeID{cons}
		} else if block := g.FirstChildOfKind(c, "block"); block != graph.NoNode {
			sc.Statements = []graph.NodeID{block}
		}
		if pattern := g.FirstChildOfKind(c, "case_pattern"); pattern != graph.NoNode {
			sc.Default = strings.TrimSpace(g.Content(pattern)) == "_"
		}
		cases = append(cases, sc)
	}
	l.Switch(id, cases, false, next)
}
