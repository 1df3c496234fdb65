package javascript

import (
	"github.com/xkilldash9x/scalpel-sast/internal/cfg"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// Walkers returns the JavaScript function roots and statement link dispatchers.
func Walkers() (cfg.Roots, []cfg.Dispatcher) {
	roots := cfg.Roots{
		Kinds: append([]string{"program"}, functionKinds...),
		Body:  functionBody,
		Name: func(g *graph.Graph, id graph.NodeID) string {
			if g.Kind(id) == "program" {
				return "<program>"
			}
			return FunctionName(g, id)
		},
	}
	return roots, []cfg.Dispatcher{
		{Name: "block", Kinds: []string{"statement_block"}, Link: func(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
			l.Block(id, next)
		}},
		{Name: "if", Kinds: []string{"if_statement"}, Link: linkIf},
		{Name: "else", Kinds: []string{"else_clause", "finally_clause", "catch_clause"}, Link: linkClause},
		{Name: "loop", Kinds: []string{"while_statement", "do_statement", "for_in_statement"}, Link: linkLoop},
		{Name: "for", Kinds: []string{"for_statement"}, Link: linkFor},
		{Name: "try", Kinds: []string{"try_statement"}, Link: linkTry},
		{Name: "switch", Kinds: []string{"switch_statement"}, Link: linkSwitch},
		{Name: "terminal", Kinds: []string{"return_statement", "throw_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Return(id)
		}},
		{Name: "break", Kinds: []string{"break_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Break(id)
		}},
		{Name: "continue", Kinds: []string{"continue_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Continue(id)
		}},
		{Name: "labeled", Kinds: []string{"labeled_statement"}, Link: linkClause},
	}
}

func functionBody(g *graph.Graph, id graph.NodeID) []graph.NodeID {
	if g.Kind(id) == "program" {
		return statements(g, id)
	}
	body := g.ChildByField(id, "body")
	if body == graph.NoNode {
		return nil
	}
	if g.Kind(body) == "statement_block" {
		return statements(g, body)
	}
	return []graph.NodeID{body}
}

func statements(g *graph.Graph, block graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, c := range g.Children(block) {
		switch g.Kind(c) {
		case "", "comment", "{", "}", ";", "empty_statement", "hash_bang_line":
		default:
			out = append(out, c)
		}
	}
	return out
}

func linkIf(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	l.Branch(id, g.ChildByField(id, "consequence"), g.ChildByField(id, "alternative"), next)
}

// linkClause links a wrapper clause to the single statement or block it holds.
func linkClause(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	body := g.ChildByField(id, "body")
	if body == graph.NoNode {
		stmts := statements(g, id)
		if len(stmts) > 0 {
			body = stmts[len(stmts)-1]
		}
	}
	if body == graph.NoNode || body == g.ChildByField(id, "parameter") {
		l.Edges(id, next)
		return
	}
	l.Edge(id, body)
	l.Link(body, next)
}

func linkLoop(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	l.Loop(id, graph.NoNode, l.Graph().ChildByField(id, "body"), graph.NoNode, next)
}

func linkFor(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	init := g.ChildByField(id, "initializer")
	if g.Kind(init) == "empty_statement" {
		init = graph.NoNode
	}
	l.Loop(id, init, g.ChildByField(id, "body"), g.ChildByField(id, "increment"), next)
}

func linkTry(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	var handlers []graph.NodeID
	if h := g.ChildByField(id, "handler"); h != graph.NoNode {
		handlers = append(handlers, h)
	}
	l.Try(id, g.ChildByField(id, "body"), handlers, g.ChildByField(id, "finalizer"), next)
}

func linkSwitch(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	var cases []cfg.Case
	for _, c := range g.Children(g.ChildByField(id, "body")) {
		kind := g.Kind(c)
		if kind != "switch_case" && kind != "switch_default" {
			continue
		}
		sc := cfg.Case{Node: c, Default: kind == "switch_default"}
		value := g.ChildByField(c, "value")
		for _, s := range statements(g, c) {
			if s != value {
				sc.Statements = append(sc.Statements, s)
			}
		}
		cases = append(cases, sc)
	}
	l.Switch(id, cases, true, next)
}
