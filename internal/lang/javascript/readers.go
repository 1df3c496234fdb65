// Package javascript lowers, links and indexes JavaScript syntax graphs.
package javascript

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

var functionKinds = []string{
	"function_declaration", "function_expression", "function", "arrow_function",
	"method_definition", "generator_function_declaration", "generator_function",
}

// Readers returns the JavaScript lowering dispatchers.
func Readers() []syntax.Dispatcher {
	return []syntax.Dispatcher{
		{Name: "declarator", Kinds: []string{"variable_declarator"}, Read: readDeclarator},
		{Name: "parameter", Kinds: []string{"assignment_pattern"}, Read: readDefaultParameter},
		{Name: "foreach", Kinds: []string{"for_in_statement"}, Read: readForIn},
		{Name: "catch", Kinds: []string{"catch_clause"}, Read: readCatch},
		{Name: "assignment", Kinds: []string{"assignment_expression", "augmented_assignment_expression"}, Read: readAssignment},
		{Name: "symbol", Kinds: []string{"identifier", "this", "super", "shorthand_property_identifier"}, Read: readSymbol},
		{Name: "literal", Kinds: []string{"number", "true", "false", "null", "undefined", "regex"}, Read: readLiteral},
		{Name: "string", Kinds: []string{"string", "template_string"}, Read: readString},
		{Name: "call", Kinds: []string{"call_expression"}, Read: readCall},
		{Name: "new", Kinds: []string{"new_expression"}, Read: readNew},
		{Name: "object", Kinds: []string{"object"}, Read: readObject},
		{Name: "array", Kinds: []string{"array"}, Read: readArray},
		{Name: "return", Kinds: []string{"return_statement", "throw_statement"}, Read: readReturn},
		{Name: "function", Kinds: functionKinds, Read: readFunction},
		{Name: "operation", Kinds: []string{
			"binary_expression", "unary_expression", "update_expression", "ternary_expression", "sequence_expression",
		}, Read: readOperation},
		{Name: "member", Kinds: []string{"member_expression"}, Read: readMember},
		{Name: "subscript", Kinds: []string{"subscript_expression"}, Read: readSubscript},
		{Name: "condition", Kinds: []string{"if_statement", "while_statement", "do_statement", "for_statement", "switch_statement"}, Read: readCondition},
		{Name: "wrapper", Kinds: []string{
			"expression_statement", "parenthesized_expression", "lexical_declaration", "variable_declaration",
			"await_expression", "spread_element", "template_substitution", "pair",
		}, Read: readWrapper},
	}
}

func readDeclarator(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   patternNames(r, r.Field(id, "name")),
		Value: r.Field(id, "value"),
	}
}

// patternNames renders a binding target as a comma separated list of names.
func patternNames(r *syntax.Reader, id graph.NodeID) string {
	switch r.Kind(id) {
	case "object_pattern", "array_pattern":
		var names []string
		r.Graph.Walk(id, func(n graph.NodeID) bool {
			switch r.Kind(n) {
			case "shorthand_property_identifier_pattern", "identifier":
				if r.Graph.Node(n).Field != "key" {
					names = append(names, r.Text(n))
				}
			}
			return true
		})
		return strings.Join(names, ", ")
	}
	return r.Text(id)
}

func readDefaultParameter(r *syntax.Reader, id graph.NodeID) syntax.Step {
	index := 0
	for i, sib := range r.Named(r.Graph.Parent(id)) {
		if sib == id {
			index = i
		}
	}
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   patternNames(r, r.Field(id, "left")),
		Value: r.Field(id, "right"),
		Param: true,
		Index: index,
	}
}

func readForIn(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.Declaration{
		Meta:     syntax.Meta{ID: id},
		Var:      patternNames(r, r.Field(id, "left")),
		Value:    r.Field(id, "right"),
		Iterates: true,
	}
}

func readCatch(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   patternNames(r, r.Field(id, "parameter")),
		Value: graph.NoNode,
	}
}

func readAssignment(r *syntax.Reader, id graph.NodeID) syntax.Step {
	left := r.Unwrap(r.Field(id, "left"))
	a := &syntax.Assignment{
		Meta:     syntax.Meta{ID: id},
		Target:   r.Text(left),
		Object:   graph.NoNode,
		Key:      graph.NoNode,
		Value:    r.Field(id, "right"),
		Operator: "=",
	}
	if op := r.Field(id, "operator"); op != graph.NoNode {
		a.Operator = strings.TrimSpace(r.Text(op))
	}
	switch r.Kind(left) {
	case "member_expression":
		a.Object = r.Field(left, "object")
		a.Member = r.Text(r.Field(left, "property"))
	case "subscript_expression":
		a.Object = r.Field(left, "object")
		a.Key = r.Field(left, "index")
	case "object_pattern", "array_pattern":
		a.Names = strings.Split(patternNames(r, left), ", ")
	}
	return a
}

func readSymbol(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.SymbolLookup{Meta: syntax.Meta{ID: id}, Symbol: r.Text(id)}
}

func readLiteral(r *syntax.Reader, id graph.NodeID) syntax.Step {
	typ := "number"
	switch r.Kind(id) {
	case "true", "false":
		typ = "bool"
	case "null", "undefined":
		typ = "null"
	case "regex":
		typ = "regex"
	}
	return &syntax.Literal{Meta: syntax.Meta{ID: id}, Type: typ, Value: r.Text(id)}
}

func readString(r *syntax.Reader, id graph.NodeID) syntax.Step {
	if r.Kind(id) == "template_string" {
		subs := r.Graph.ChildrenOfKind(id, "template_substitution")
		if len(subs) > 0 {
			return &syntax.Operation{Meta: syntax.Meta{ID: id}, Operator: "template", Operands: subs}
		}
	}
	return &syntax.Literal{Meta: syntax.Meta{ID: id}, Type: "string", Value: Unquote(r.Text(id))}
}

// Unquote strips the quotes of a JavaScript string or template literal.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

func readCall(r *syntax.Reader, id graph.NodeID) syntax.Step {
	fn := r.Unwrap(r.Field(id, "function"))
	args := arguments(r, r.Field(id, "arguments"))
	switch r.Kind(fn) {
	case "identifier", "import":
		name := r.Text(fn)
		return &syntax.MethodInvocation{Meta: syntax.Meta{ID: id}, Expression: name, Method: name, Object: graph.NoNode, Args: args}
	case "member_expression":
		object := r.Field(fn, "object")
		method := r.Text(r.Field(fn, "property"))
		if prefix, ok := dotted(r, object); ok {
			return &syntax.MethodInvocation{
				Meta:       syntax.Meta{ID: id},
				Expression: prefix + "." + method,
				Method:     method,
				Object:     object,
				Args:       args,
			}
		}
		return &syntax.MethodInvocationChain{Meta: syntax.Meta{ID: id}, Method: method, Object: object, Args: args}
	}
	return &syntax.MethodInvocationChain{Meta: syntax.Meta{ID: id}, Object: fn, Args: args}
}

func readNew(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ObjectInstantiation{
		Meta:     syntax.Meta{ID: id},
		TypeName: r.Text(r.Field(id, "constructor")),
		Args:     arguments(r, r.Field(id, "arguments")),
	}
}

func readObject(r *syntax.Reader, id graph.NodeID) syntax.Step {
	obj := &syntax.ObjectInstantiation{Meta: syntax.Meta{ID: id}, TypeName: "Object"}
	for _, c := range r.Graph.Children(id) {
		switch r.Kind(c) {
		case "pair":
			key := r.Field(c, "key")
			obj.Entries = append(obj.Entries, syntax.Entry{Key: Unquote(r.Text(key)), KeyNode: graph.NoNode, Value: r.Field(c, "value")})
		case "shorthand_property_identifier":
			obj.Entries = append(obj.Entries, syntax.Entry{Key: r.Text(c), KeyNode: graph.NoNode, Value: c})
		case "spread_element":
			obj.Args = append(obj.Args, c)
		}
	}
	return obj
}

func readArray(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ArrayInstantiation{Meta: syntax.Meta{ID: id}, Elements: r.Named(id)}
}

func readReturn(r *syntax.Reader, id graph.NodeID) syntax.Step {
	value := graph.NoNode
	if named := r.Named(id); len(named) > 0 {
		value = named[0]
	}
	return &syntax.Return{Meta: syntax.Meta{ID: id}, Value: value, Throw: r.Kind(id) == "throw_statement"}
}

func readFunction(r *syntax.Reader, id graph.NodeID) syntax.Step {
	name := r.Text(r.Field(id, "name"))
	if name == "" {
		name = FunctionName(r.Graph, id)
	}
	var params []graph.NodeID
	if p := r.Field(id, "parameters"); p != graph.NoNode {
		params = r.Named(p)
	} else if p := r.Field(id, "parameter"); p != graph.NoNode {
		params = []graph.NodeID{p}
	}
	return &syntax.MethodDeclaration{Meta: syntax.Meta{ID: id}, Name: name, Params: params}
}

// FunctionName names an anonymous function after the variable or property it
// is assigned to.
func FunctionName(g *graph.Graph, id graph.NodeID) string {
	if name := g.ChildByField(id, "name"); name != graph.NoNode {
		return g.Content(name)
	}
	parent := g.Parent(id)
	switch g.Kind(parent) {
	case "variable_declarator":
		return g.Content(g.ChildByField(parent, "name"))
	case "pair":
		return Unquote(g.Content(g.ChildByField(parent, "key")))
	case "assignment_expression":
		left := g.ChildByField(parent, "left")
		if g.Kind(left) == "member_expression" {
			return g.Content(g.ChildByField(left, "property"))
		}
		return g.Content(left)
	}
	return "anonymous"
}

func readOperation(r *syntax.Reader, id graph.NodeID) syntax.Step {
	op := &syntax.Operation{Meta: syntax.Meta{ID: id}, Operator: r.Kind(id)}
	switch r.Kind(id) {
	case "binary_expression":
		op.Operator = strings.TrimSpace(r.Text(r.Field(id, "operator")))
		op.Operands = present(r.Field(id, "left"), r.Field(id, "right"))
	case "ternary_expression":
		op.Operands = present(r.Field(id, "consequence"), r.Field(id, "alternative"))
	case "unary_expression", "update_expression":
		op.Operands = present(r.Field(id, "argument"))
		if len(op.Operands) == 0 {
			op.Operands = r.Named(id)
		}
	default:
		op.Operands = r.Named(id)
	}
	return op
}

func readMember(r *syntax.Reader, id graph.NodeID) syntax.Step {
	expr, ok := dotted(r, id)
	if !ok {
		expr = r.Text(id)
	}
	return &syntax.MemberAccess{
		Meta:       syntax.Meta{ID: id},
		Expression: expr,
		Object:     r.Field(id, "object"),
		Member:     r.Text(r.Field(id, "property")),
	}
}

func readSubscript(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ElementAccess{Meta: syntax.Meta{ID: id}, Object: r.Field(id, "object"), Index: r.Field(id, "index")}
}

func readCondition(r *syntax.Reader, id graph.NodeID) syntax.Step {
	cond := r.Field(id, "condition")
	if r.Kind(id) == "switch_statement" {
		cond = r.Field(id, "value")
	}
	return &syntax.Condition{Meta: syntax.Meta{ID: id}, Condition: cond}
}

func readWrapper(r *syntax.Reader, id graph.NodeID) syntax.Step {
	if r.Kind(id) == "pair" {
		return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: present(r.Field(id, "value"))}
	}
	return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: r.Named(id)}
}

func dotted(r *syntax.Reader, id graph.NodeID) (string, bool) {
	switch r.Kind(id) {
	case "identifier", "this", "super":
		return r.Text(id), true
	case "member_expression":
		prefix, ok := dotted(r, r.Field(id, "object"))
		if !ok {
			return "", false
		}
		return prefix + "." + r.Text(r.Field(id, "property")), true
	}
	return "", false
}

func arguments(r *syntax.Reader, list graph.NodeID) []graph.NodeID {
	if list == graph.NoNode {
		return nil
	}
	if r.Kind(list) == "template_string" {
		return []graph.NodeID{list}
	}
	return r.Named(list)
}

func present(ids ...graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, id := range ids {
		if id != graph.NoNode {
			out = append(out, id)
		}
	}
	return out
}
