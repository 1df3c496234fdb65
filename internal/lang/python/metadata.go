package python

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

// ExtractMetadata indexes the imports, classes and module functions of a Python graph.
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
			for _, name := range g.ChildrenByField(id, "name") {
				addImport(meta, g, name, "")
			}
			return false
		case "import_from_statement":
			module := resolveModule(g.Content(g.ChildByField(id, "module_name")), path)
			for _, name := range g.ChildrenByField(id, "name") {
				addImport(meta, g, name, module)
			}
			return false
		case "class_definition":
			meta.AddClass(extractClass(g, meta, id))
		}
		return true
	})

	for _, stmt := range g.Children(root) {
		def := unwrapDecorated(g, stmt)
		if g.Kind(def) == "function_definition" {
			m := method(g, def)
			meta.Functions[m.Name] = m
		}
	}
	return meta
}

func addImport(meta *graph.Metadata, g *graph.Graph, name graph.NodeID, module string) {
	target, alias := "", ""
	if g.Kind(name) == "aliased_import" {
		target = g.Content(g.ChildByField(name, "name"))
		alias = g.Content(g.ChildByField(name, "alias"))
	} else {
		target = g.Content(name)
		alias = target
		if module == "" {
			// `import os.path` binds `os`.
			alias, _, _ = strings.Cut(target, ".")
			target = alias
		}
	}
	if target == "" || alias == "" {
		return
	}
	if module != "" {
		target = module + "." + target
	}
	meta.Imports[alias] = target
}

// resolveModule turns a relative module such as "..pkg.mod" into a dotted name
// rooted at the importing file.
func resolveModule(module, path string) string {
	if !strings.HasPrefix(module, ".") {
		return module
	}
	levels := len(module) - len(strings.TrimLeft(module, "."))
	rest := strings.TrimLeft(module, ".")
	base := strings.Split(shard.ModuleName(path), ".")
	// The first dot refers to the importing file's own package.
	keep := len(base) - levels
	if keep < 0 {
		keep = 0
	}
	parts := append([]string{}, base[:keep]...)
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ".")
}

func extractClass(g *graph.Graph, meta *graph.Metadata, id graph.NodeID) *graph.Class {
	name := g.Content(g.ChildByField(id, "name"))
	class := graph.NewClass(name, graph.Qualify(meta.Package, name), id)
	if supers := g.ChildByField(id, "superclasses"); supers != graph.NoNode {
		for _, s := range g.Children(supers) {
			if k := g.Kind(s); k == "identifier" || k == "attribute" {
				class.Parent = graph.LastSegment(g.Content(s))
				break
			}
		}
	}
	body := g.ChildByField(id, "body")
	for _, stmt := range g.Children(body) {
		def := unwrapDecorated(g, stmt)
		switch g.Kind(def) {
		case "function_definition":
			m := method(g, def)
			m.Static = isStatic(g, stmt)
			class.AddMethod(m)
			collectSelfFields(g, class, def)
		case "expression_statement":
			for _, a := range g.ChildrenOfKind(def, "assignment") {
				left := g.ChildByField(a, "left")
				if g.Kind(left) == "identifier" {
					n := g.Content(left)
					class.Fields[n] = graph.Field{Name: n, Type: g.Content(g.ChildByField(a, "type")), Node: a, Value: g.ChildByField(a, "right")}
				}
			}
		}
	}
	return class
}

func collectSelfFields(g *graph.Graph, class *graph.Class, def graph.NodeID) {
	for _, a := range g.Descendants(def, "assignment") {
		left := g.ChildByField(a, "left")
		if g.Kind(left) != "attribute" || g.Content(g.ChildByField(left, "object")) != "self" {
			continue
		}
		n := g.Content(g.ChildByField(left, "attribute"))
		if _, exists := class.Fields[n]; !exists {
			class.Fields[n] = graph.Field{Name: n, Node: a, Value: g.ChildByField(a, "right")}
		}
	}
}

func method(g *graph.Graph, def graph.NodeID) graph.Method {
	m := graph.Method{
		Name:       g.Content(g.ChildByField(def, "name")),
		ReturnType: g.Content(g.ChildByField(def, "return_type")),
		Node:       def,
	}
	for _, p := range g.Children(g.ChildByField(def, "parameters")) {
		param := graph.Param{Node: p}
		switch g.Kind(p) {
		case "identifier":
			param.Name = g.Content(p)
		case "typed_parameter":
			param.Name = g.Content(g.FirstChildOfKind(p, "identifier"))
			param.Type = g.Content(g.ChildByField(p, "type"))
		case "default_parameter", "typed_default_parameter":
			param.Name = g.Content(g.ChildByField(p, "name"))
			param.Type = g.Content(g.ChildByField(p, "type"))
		case "list_splat_pattern", "dictionary_splat_pattern":
			param.Name = strings.TrimLeft(g.Content(p), "*")
		default:
			continue
		}
		m.Params = append(m.Params, param)
	}
	return m
}

func unwrapDecorated(g *graph.Graph, id graph.NodeID) graph.NodeID {
	if g.Kind(id) == "decorated_definition" {
		if def := g.ChildByField(id, "definition"); def != graph.NoNode {
			return def
		}
	}
	return id
}

func isStatic(g *graph.Graph, stmt graph.NodeID) bool {
	if g.Kind(stmt) != "decorated_definition" {
		return false
	}
	for _, d := range g.ChildrenOfKind(stmt, "decorator") {
		if strings.TrimSpace(strings.TrimPrefix(g.Content(d), "@")) == "staticmethod" {
			return true
		}
	}
	return false
}
