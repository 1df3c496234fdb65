package javascript

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

// ExtractMetadata indexes the imports, classes and top-level functions of a
// JavaScript graph. Both ES module imports and CommonJS require calls count.
func ExtractMetadata(g *graph.Graph, path string) *graph.Metadata {
	meta := graph.NewMetadata()
	root := g.Root()
	if root == graph.NoNode {
		return meta
	}
	meta.Package = shard.ModuleName(path)

	g.Walk(root, func(id graph.NodeID) bool {
		switch g.Kind(id) {
		case "import_statement":
			addESImport(meta, g, id, path)
			return false
		case "variable_declarator":
			addRequire(meta, g, id, path)
		case "class_declaration", "class":
			if c := extractClass(g, meta, id); c != nil {
				meta.AddClass(c)
			}
		}
		return true
	})

	for _, stmt := range g.Children(root) {
		collectFunctions(meta, g, stmt)
	}
	return meta
}

func addESImport(meta *graph.Metadata, g *graph.Graph, id graph.NodeID, path string) {
	module := shard.ResolveRelative(path, Unquote(g.Content(g.ChildByField(id, "source"))))
	clause := g.FirstChildOfKind(id, "import_clause")
	for _, c := range g.Children(clause) {
		switch g.Kind(c) {
		case "identifier":
			meta.Imports[g.Content(c)] = module
		case "namespace_import":
			if n := g.FirstChildOfKind(c, "identifier"); n != graph.NoNode {
				meta.Imports[g.Content(n)] = module
			}
		case "named_imports":
			for _, spec := range g.ChildrenOfKind(c, "import_specifier") {
				name := g.Content(g.ChildByField(spec, "name"))
				alias := g.Content(g.ChildByField(spec, "alias"))
				if alias == "" {
					alias = name
				}
				meta.Imports[alias] = module + "." + name
			}
		}
	}
}

func addRequire(meta *graph.Metadata, g *graph.Graph, id graph.NodeID, path string) {
	value := g.ChildByField(id, "value")
	if g.Kind(value) != "call_expression" || g.Content(g.ChildByField(value, "function")) != "require" {
		return
	}
	args := g.ChildByField(value, "arguments")
	spec := g.FirstChildOfKind(args, "string", "template_string")
	if spec == graph.NoNode {
		return
	}
	module := shard.ResolveRelative(path, Unquote(g.Content(spec)))
	name := g.ChildByField(id, "name")
	switch g.Kind(name) {
	case "identifier":
		meta.Imports[g.Content(name)] = module
	case "object_pattern":
		for _, p := range g.Children(name) {
			switch g.Kind(p) {
			case "shorthand_property_identifier_pattern", "shorthand_property_identifier":
				meta.Imports[g.Content(p)] = module + "." + g.Content(p)
			case "pair_pattern":
				key := g.Content(g.ChildByField(p, "key"))
				meta.Imports[g.Content(g.ChildByField(p, "value"))] = module + "." + key
			}
		}
	}
}

func extractClass(g *graph.Graph, meta *graph.Metadata, id graph.NodeID) *graph.Class {
	name := g.Content(g.ChildByField(id, "name"))
	if name == "" {
		if p := g.Parent(id); g.Kind(p) == "variable_declarator" {
			name = g.Content(g.ChildByField(p, "name"))
		}
	}
	if name == "" {
		return nil
	}
	class := graph.NewClass(name, graph.Qualify(meta.Package, name), id)
	if heritage := g.FirstChildOfKind(id, "class_heritage"); heritage != graph.NoNode {
		if parent := g.FirstChildOfKind(heritage, "identifier", "member_expression"); parent != graph.NoNode {
			class.Parent = graph.LastSegment(g.Content(parent))
		}
	}
	for _, m := range g.Children(g.ChildByField(id, "body")) {
		switch g.Kind(m) {
		case "method_definition":
			method := function(g, m)
			// The static keyword is an anonymous token the frontend drops.
			method.Static = strings.HasPrefix(g.Content(m), "static ")
			class.AddMethod(method)
			for _, a := range g.Descendants(m, "assignment_expression") {
				left := g.ChildByField(a, "left")
				if g.Kind(left) == "member_expression" && g.Content(g.ChildByField(left, "object")) == "this" {
					field := g.Content(g.ChildByField(left, "property"))
					if _, exists := class.Fields[field]; !exists {
						class.Fields[field] = graph.Field{Name: field, Node: a, Value: g.ChildByField(a, "right")}
					}
				}
			}
		case "field_definition", "public_field_definition":
			prop := g.ChildByField(m, "property")
			if prop == graph.NoNode {
				prop = g.FirstChildOfKind(m, "property_identifier")
			}
			field := g.Content(prop)
			class.Fields[field] = graph.Field{Name: field, Node: m, Value: g.ChildByField(m, "value")}
		}
	}
	return class
}

func collectFunctions(meta *graph.Metadata, g *graph.Graph, stmt graph.NodeID) {
	switch g.Kind(stmt) {
	case "export_statement":
		for _, c := range g.Children(stmt) {
			collectFunctions(meta, g, c)
		}
	case "function_declaration", "generator_function_declaration":
		m := function(g, stmt)
		meta.Functions[m.Name] = m
	case "lexical_declaration", "variable_declaration":
		for _, d := range g.ChildrenOfKind(stmt, "variable_declarator") {
			value := g.ChildByField(d, "value")
			if isFunction(g.Kind(value)) {
				m := function(g, value)
				m.Name = g.Content(g.ChildByField(d, "name"))
				meta.Functions[m.Name] = m
			}
		}
	case "expression_statement":
		// module.exports.name = function () {} and exports.name = () => {}
		for _, a := range g.ChildrenOfKind(stmt, "assignment_expression") {
			left, right := g.ChildByField(a, "left"), g.ChildByField(a, "right")
			if g.Kind(left) == "member_expression" && isFunction(g.Kind(right)) {
				m := function(g, right)
				m.Name = g.Content(g.ChildByField(left, "property"))
				meta.Functions[m.Name] = m
			}
		}
	}
}

func function(g *graph.Graph, id graph.NodeID) graph.Method {
	m := graph.Method{Name: FunctionName(g, id), Node: id}
	params := g.ChildByField(id, "parameters")
	if params == graph.NoNode {
		if p := g.ChildByField(id, "parameter"); p != graph.NoNode {
			m.Params = append(m.Params, graph.Param{Name: g.Content(p), Node: p})
		}
		return m
	}
	for _, p := range g.Children(params) {
		switch g.Kind(p) {
		case "identifier":
			m.Params = append(m.Params, graph.Param{Name: g.Content(p), Node: p})
		case "assignment_pattern":
			m.Params = append(m.Params, graph.Param{Name: g.Content(g.ChildByField(p, "left")), Node: p})
		case "rest_pattern", "object_pattern", "array_pattern":
			m.Params = append(m.Params, graph.Param{Name: g.Content(p), Node: p})
		}
	}
	return m
}

func isFunction(kind string) bool {
	for _, k := range functionKinds {
		if k == kind {
			return true
		}
	}
	return false
}
