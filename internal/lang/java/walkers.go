package java

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/cfg"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// Walkers returns the Java function roots and statement link dispatchers.
func Walkers() (cfg.Roots, []cfg.Dispatcher) {
	roots := cfg.Roots{
		Kinds: []string{"method_declaration", "constructor_declaration", "lambda_expression"},
		Body:  functionBody,
		Name: func(g *graph.Graph, id graph.NodeID) string {
			if name := g.ChildByField(id, "name"); name != graph.NoNode {
				return g.Content(name)
			}
			return "lambda"
		},
	}
	return roots, []cfg.Dispatcher{
		{Name: "block", Kinds: []string{"block", "constructor_body"}, Link: func(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
			l.Block(id, next)
		}},
		{Name: "if", Kinds: []string{"if_statement"}, Link: linkIf},
		{Name: "loop", Kinds: []string{"while_statement", "do_statement", "enhanced_for_statement"}, Link: linkLoop},
		{Name: "for", Kinds: []string{"for_statement"}, Link: linkFor},
		{Name: "try", Kinds: []string{"try_statement", "try_with_resources_statement"}, Link: linkTry},
		{Name: "handler", Kinds: []string{"catch_clause", "finally_clause"}, Link: linkHandler},
		{Name: "switch", Kinds: []string{"switch_expression", "switch_statement"}, Link: linkSwitch},
		{Name: "terminal", Kinds: []string{"return_statement", "throw_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Return(id)
		}},
		{Name: "break", Kinds: []string{"break_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Break(id)
		}},
		{Name: "continue", Kinds: []string{"continue_statement"}, Link: func(l *cfg.Linker, id graph.NodeID, _ []graph.NodeID) {
			l.Continue(id)
		}},
		{Name: "nested", Kinds: []string{"labeled_statement", "synchronized_statement"}, Link: linkNested},
	}
}

func functionBody(g *graph.Graph, id graph.NodeID) []graph.NodeID {
	body := g.ChildByField(id, "body")
	if body == graph.NoNode {
		return nil
	}
	switch g.Kind(body) {
	case "block", "constructor_body":
		var out []graph.NodeID
		for _, c := range g.Children(body) {
			if isStatement(g.Kind(c)) {
				out = append(out, c)
			}
		}
		return out
	}
	return []graph.NodeID{body}
}

func isStatement(kind string) bool {
	return kind != "" && kind != "{" && kind != "}" && kind != ";" && !strings.HasSuffix(kind, "comment")
}

func linkIf(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	l.Branch(id, g.ChildByField(id, "consequence"), g.ChildByField(id, "alternative"), next)
}

func linkLoop(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	l.Loop(id, graph.NoNode, l.Graph().ChildByField(id, "body"), graph.NoNode, next)
}

func linkFor(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	l.Loop(id, g.ChildByField(id, "init"), g.ChildByField(id, "body"), g.ChildByField(id, "update"), next)
}

func linkTry(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	l.Try(id,
		g.ChildByField(id, "body"),
		g.ChildrenOfKind(id, "catch_clause"),
		g.FirstChildOfKind(id, "finally_clause"),
		next)
}

func linkHandler(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
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

func linkSwitch(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	body := g.ChildByField(id, "body")
	if body == graph.NoNode {
		body = g.FirstChildOfKind(id, "switch_block")
	}
	var cases []cfg.Case
	groups := true
	for _, c := range g.Children(body) {
		kind := g.Kind(c)
		if kind != "switch_block_statement_group" && kind != "switch_rule" {
			continue
		}
		if kind == "switch_rule" {
			groups = false
		}
		sc := cfg.Case{Node: c}
		for _, s := range g.Children(c) {
			switch g.Kind(s) {
			case "switch_label":
				if strings.HasPrefix(strings.TrimSpace(g.Content(s)), "default") {
					sc.Default = true
				}
			default:
				if isStatement(g.Kind(s)) {
					sc.Statements = append(sc.Statements, s)
				}
			}
		}
		cases = append(cases, sc)
	}
	l.Switch(id, cases, groups, next)
}

func linkNested(l *cfg.Linker, id graph.NodeID, next []graph.NodeID) {
	g := l.Graph()
	inner := g.ChildByField(id, "body")
	if inner == graph.NoNode {
		named := l.Statements(id)
		if len(named) > 0 {
			inner = named[len(named)-1]
		}
	}
	if inner == graph.NoNode {
		l.Edges(id, next)
		return
	}
	l.Edge(id, inner)
	l.Link(inner, next)
}
