package java

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

var classKinds = []string{"class_declaration", "interface_declaration", "enum_declaration", "record_declaration"}

// ExtractMetadata indexes the package, imports, classes and members of a Java graph.
func ExtractMetadata(g *graph.Graph, _ string) *graph.Metadata {
	meta := graph.NewMetadata()
	root := g.Root()
	if root == graph.NoNode {
		return meta
	}
	for _, c := range g.Children(root) {
		switch g.Kind(c) {
		case "package_declaration":
			if name := g.FirstChildOfKind(c, "scoped_identifier", "identifier"); name != graph.NoNode {
				meta.Package = g.Content(name)
			}
		case "import_declaration":
			name := g.FirstChildOfKind(c, "scoped_identifier", "identifier")
			if name == graph.NoNode {
				continue
			}
			qualified := g.Content(name)
			if strings.Contains(g.Content(c), "*") {
				continue
			}
			meta.Imports[graph.LastSegment(qualified)] = qualified
		}
	}

	g.Walk(root, func(id graph.NodeID) bool {
		kind := g.Kind(id)
		if !containsKind(classKinds, kind) {
			return true
		}
		name := g.Content(g.ChildByField(id, "name"))
		if name == "" {
			return true
		}
		class := graph.NewClass(name, graph.Qualify(meta.Package, name), id)
		if sc := g.ChildByField(id, "superclass"); sc != graph.NoNode {
			if t := g.FirstChildOfKind(sc, "type_identifier", "generic_type", "scoped_type_identifier"); t != graph.NoNode {
				class.Parent = graph.BaseTypeName(g.Content(t))
			}
		}
		collectMembers(g, class, g.ChildByField(id, "body"))
		meta.AddClass(class)
		return true
	})
	return meta
}

func collectMembers(g *graph.Graph, class *graph.Class, body graph.NodeID) {
	for _, m := range g.Children(body) {
		switch g.Kind(m) {
		case "field_declaration":
			typ := g.Content(g.ChildByField(m, "type"))
			for _, d := range g.ChildrenOfKind(m, "variable_declarator") {
				name := g.Content(g.ChildByField(d, "name"))
				class.Fields[name] = graph.Field{Name: name, Type: typ, Node: d, Value: g.ChildByField(d, "value")}
			}
		case "method_declaration", "constructor_declaration":
			method := graph.Method{
				Name:       g.Content(g.ChildByField(m, "name")),
				ReturnType: g.Content(g.ChildByField(m, "type")),
				Node:       m,
				Params:     parameters(g, g.ChildByField(m, "parameters")),
			}
			if mods := g.FirstChildOfKind(m, "modifiers"); mods != graph.NoNode {
				method.Static = strings.Contains(g.Content(mods), "static")
			}
			if g.Kind(m) == "constructor_declaration" {
				method.ReturnType = class.Name
			}
			class.AddMethod(method)
		}
	}
}

func parameters(g *graph.Graph, list graph.NodeID) []graph.Param {
	var out []graph.Param
	for _, p := range g.ChildrenOfKind(list, "formal_parameter", "spread_parameter") {
		name := g.ChildByField(p, "name")
		if name == graph.NoNode {
			if d := g.FirstChildOfKind(p, "variable_declarator"); d != graph.NoNode {
				name = g.ChildByField(d, "name")
			}
		}
		out = append(out, graph.Param{
			Name: g.Content(name),
			Type: g.Content(g.ChildByField(p, "type")),
			Node: p,
		})
	}
	return out
}

func containsKind(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
