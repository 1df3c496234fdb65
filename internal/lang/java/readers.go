// Package java lowers, links and indexes Java syntax graphs.
package java

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// Readers returns the Java lowering dispatchers.
func Readers() []syntax.Dispatcher {
	return []syntax.Dispatcher{
		{Name: "declarator", Kinds: []string{"variable_declarator"}, Read: readDeclarator},
		{Name: "parameter", Kinds: []string{"formal_parameter", "spread_parameter"}, Read: readParameter},
		{Name: "resource", Kinds: []string{"resource"}, Read: readResource},
		{Name: "catch", Kinds: []string{"catch_clause"}, Read: readCatch},
		{Name: "foreach", Kinds: []string{"enhanced_for_statement"}, Read: readForEach},
		{Name: "assignment", Kinds: []string{"assignment_expression"}, Read: readAssignment},
		{Name: "symbol", Kinds: []string{"identifier", "this", "super"}, Read: readSymbol},
		{Name: "literal", Kinds: []string{
			"string_literal", "text_block", "character_literal", "decimal_integer_literal",
			"hex_integer_literal", "octal_integer_literal", "binary_integer_literal",
			"decimal_floating_point_literal", "hex_floating_point_literal",
			"true", "false", "null_literal", "class_literal",
		}, Read: readLiteral},
		{Name: "invocation", Kinds: []string{"method_invocation"}, Read: readInvocation},
		{Name: "instantiation", Kinds: []string{"object_creation_expression"}, Read: readInstantiation},
		{Name: "array", Kinds: []string{"array_creation_expression", "array_initializer"}, Read: readArray},
		{Name: "return", Kinds: []string{"return_statement", "throw_statement"}, Read: readReturn},
		{Name: "method", Kinds: []string{"method_declaration", "constructor_declaration", "lambda_expression"}, Read: readMethod},
		{Name: "operation", Kinds: []string{
			"binary_expression", "unary_expression", "update_expression", "ternary_expression",
			"cast_expression", "instanceof_expression",
		}, Read: readOperation},
		{Name: "member", Kinds: []string{"field_access"}, Read: readFieldAccess},
		{Name: "element", Kinds: []string{"array_access"}, Read: readArrayAccess},
		{Name: "condition", Kinds: []string{
			"if_statement", "while_statement", "do_statement", "for_statement",
			"switch_expression", "switch_statement",
		}, Read: readCondition},
		{Name: "wrapper", Kinds: []string{
			"expression_statement", "parenthesized_expression", "local_variable_declaration",
			"try_with_resources_statement", "resource_specification", "explicit_constructor_invocation",
		}, Read: readWrapper},
	}
}

func readDeclarator(r *syntax.Reader, id graph.NodeID) syntax.Step {
	parent := r.Graph.Parent(id)
	typ := ""
	if parent != graph.NoNode {
		typ = r.Text(r.Field(parent, "type"))
	}
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   r.Text(r.Field(id, "name")),
		Type:  typ,
		Value: r.Field(id, "value"),
	}
}

func readParameter(r *syntax.Reader, id graph.NodeID) syntax.Step {
	name := r.Field(id, "name")
	if name == graph.NoNode {
		if d := r.Graph.FirstChildOfKind(id, "variable_declarator"); d != graph.NoNode {
			name = r.Field(d, "name")
		}
	}
	index := 0
	if parent := r.Graph.Parent(id); parent != graph.NoNode {
		for _, sib := range r.Named(parent) {
			if sib == id {
				break
			}
			switch r.Kind(sib) {
			case "formal_parameter", "spread_parameter":
				index++
			}
		}
	}
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   r.Text(name),
		Type:  r.Text(r.Field(id, "type")),
		Value: graph.NoNode,
		Param: true,
		Index: index,
	}
}

func readResource(r *syntax.Reader, id graph.NodeID) syntax.Step {
	value := r.Field(id, "value")
	if value == graph.NoNode {
		named := r.Named(id)
		if len(named) == 1 {
			return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: named}
		}
	}
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   r.Text(r.Field(id, "name")),
		Type:  r.Text(r.Field(id, "type")),
		Value: value,
	}
}

func readCatch(r *syntax.Reader, id graph.NodeID) syntax.Step {
	param := r.Graph.FirstChildOfKind(id, "catch_formal_parameter")
	decl := &syntax.Declaration{Meta: syntax.Meta{ID: id}, Value: graph.NoNode}
	if param != graph.NoNode {
		decl.Var = r.Text(r.Field(param, "name"))
		decl.Type = r.Text(r.Graph.FirstChildOfKind(param, "catch_type"))
	}
	return decl
}

func readForEach(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.Declaration{
		Meta:     syntax.Meta{ID: id},
		Var:      r.Text(r.Field(id, "name")),
		Type:     r.Text(r.Field(id, "type")),
		Value:    r.Field(id, "value"),
		Iterates: true,
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
		Operator: strings.TrimSpace(r.Text(r.Field(id, "operator"))),
	}
	switch r.Kind(left) {
	case "field_access":
		a.Object = r.Field(left, "object")
		a.Member = r.Text(r.Field(left, "field"))
	case "array_access":
		a.Object = r.Field(left, "array")
		a.Key = r.Field(left, "index")
	}
	if a.Operator == "" {
		a.Operator = "="
	}
	return a
}

func readSymbol(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.SymbolLookup{Meta: syntax.Meta{ID: id}, Symbol: r.Text(id)}
}

func readLiteral(r *syntax.Reader, id graph.NodeID) syntax.Step {
	text := r.Text(id)
	typ := "string"
	switch r.Kind(id) {
	case "string_literal":
		text = unquote(text, `"`)
	case "text_block":
		text = unquote(text, `"""`)
	case "character_literal":
		typ = "char"
		text = unquote(text, "'")
	case "true", "false":
		typ = "bool"
	case "null_literal":
		typ = "null"
	case "class_literal":
		typ = "class"
	default:
		typ = "number"
	}
	return &syntax.Literal{Meta: syntax.Meta{ID: id}, Type: typ, Value: text}
}

func readInvocation(r *syntax.Reader, id graph.NodeID) syntax.Step {
	name := r.Text(r.Field(id, "name"))
	args := arguments(r, r.Field(id, "arguments"))
	object := r.Field(id, "object")
	if object == graph.NoNode {
		return &syntax.MethodInvocation{
			Meta:       syntax.Meta{ID: id},
			Expression: name,
			Method:     name,
			Object:     graph.NoNode,
			Args:       args,
		}
	}
	if prefix, ok := dotted(r, object); ok {
		return &syntax.MethodInvocation{
			Meta:       syntax.Meta{ID: id},
			Expression: prefix + "." + name,
			Method:     name,
			Object:     object,
			Args:       args,
		}
	}
	return &syntax.MethodInvocationChain{Meta: syntax.Meta{ID: id}, Method: name, Object: object, Args: args}
}

func readInstantiation(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ObjectInstantiation{
		Meta:     syntax.Meta{ID: id},
		TypeName: r.Text(r.Field(id, "type")),
		Args:     arguments(r, r.Field(id, "arguments")),
	}
}

func readArray(r *syntax.Reader, id graph.NodeID) syntax.Step {
	container := id
	if r.Kind(id) == "array_creation_expression" {
		container = r.Field(id, "value")
		if container == graph.NoNode {
			return &syntax.ArrayInstantiation{Meta: syntax.Meta{ID: id}}
		}
	}
	return &syntax.ArrayInstantiation{Meta: syntax.Meta{ID: id}, Elements: r.Named(container)}
}

func readReturn(r *syntax.Reader, id graph.NodeID) syntax.Step {
	value := graph.NoNode
	if named := r.Named(id); len(named) > 0 {
		value = named[0]
	}
	return &syntax.Return{Meta: syntax.Meta{ID: id}, Value: value, Throw: r.Kind(id) == "throw_statement"}
}

func readMethod(r *syntax.Reader, id graph.NodeID) syntax.Step {
	name := r.Text(r.Field(id, "name"))
	if r.Kind(id) == "lambda_expression" {
		name = "lambda"
	}
	var params []graph.NodeID
	if p := r.Field(id, "parameters"); p != graph.NoNode {
		if r.Kind(p) == "identifier" {
			params = []graph.NodeID{p}
		} else {
			params = r.Named(p)
		}
	}
	return &syntax.MethodDeclaration{Meta: syntax.Meta{ID: id}, Name: name, Params: params}
}

func readOperation(r *syntax.Reader, id graph.NodeID) syntax.Step {
	op := &syntax.Operation{Meta: syntax.Meta{ID: id}, Operator: r.Kind(id)}
	switch r.Kind(id) {
	case "binary_expression":
		op.Operator = strings.TrimSpace(r.Text(r.Field(id, "operator")))
		op.Operands = present(r.Field(id, "left"), r.Field(id, "right"))
	case "ternary_expression":
		op.Operands = present(r.Field(id, "consequence"), r.Field(id, "alternative"))
	case "cast_expression":
		op.Operands = present(r.Field(id, "value"))
	case "instanceof_expression":
		op.Operands = present(r.Field(id, "left"))
	default:
		if operand := r.Field(id, "operand"); operand != graph.NoNode {
			op.Operands = []graph.NodeID{operand}
		} else {
			op.Operands = r.Named(id)
		}
	}
	return op
}

func readFieldAccess(r *syntax.Reader, id graph.NodeID) syntax.Step {
	expr, ok := dotted(r, id)
	if !ok {
		expr = r.Text(id)
	}
	return &syntax.MemberAccess{
		Meta:       syntax.Meta{ID: id},
		Expression: expr,
		Object:     r.Field(id, "object"),
		Member:     r.Text(r.Field(id, "field")),
	}
}

func readArrayAccess(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ElementAccess{
		Meta:   syntax.Meta{ID: id},
		Object: r.Field(id, "array"),
		Index:  r.Field(id, "index"),
	}
}

func readCondition(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.Condition{Meta: syntax.Meta{ID: id}, Condition: r.Field(id, "condition")}
}

func readWrapper(r *syntax.Reader, id graph.NodeID) syntax.Step {
	switch r.Kind(id) {
	case "try_with_resources_statement":
		return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: present(r.Field(id, "resources"))}
	case "local_variable_declaration":
		return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: r.Graph.ChildrenOfKind(id, "variable_declarator")}
	case "explicit_constructor_invocation":
		return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: arguments(r, r.Field(id, "arguments"))}
	}
	return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: r.Named(id)}
}

// dotted renders a receiver made only of names and member accesses.
func dotted(r *syntax.Reader, id graph.NodeID) (string, bool) {
	switch r.Kind(id) {
	case "identifier", "this", "super", "type_identifier", "scoped_identifier":
		return r.Text(id), true
	case "field_access":
		prefix, ok := dotted(r, r.Field(id, "object"))
		if !ok {
			return "", false
		}
		return prefix + "." + r.Text(r.Field(id, "field")), true
	}
	return "", false
}

func arguments(r *syntax.Reader, list graph.NodeID) []graph.NodeID {
	if list == graph.NoNode {
		return nil
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

func unquote(s, quote string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2*len(quote) && strings.HasPrefix(s, quote) && strings.HasSuffix(s, quote) {
		return s[len(quote) : len(s)-len(quote)]
	}
	return s
}
