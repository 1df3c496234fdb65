// Package python lowers, links and indexes Python syntax graphs.
package python

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// Readers returns the Python lowering dispatchers.
func Readers() []syntax.Dispatcher {
	return []syntax.Dispatcher{
		{Name: "parameter", Kinds: []string{"typed_parameter", "default_parameter", "typed_default_parameter"}, Read: readParameter},
		{Name: "foreach", Kinds: []string{"for_statement", "for_in_clause"}, Read: readFor},
		{Name: "alias", Kinds: []string{"as_pattern"}, Read: readAlias},
		{Name: "assignment", Kinds: []string{"assignment", "augmented_assignment"}, Read: readAssignment},
		{Name: "symbol", Kinds: []string{"identifier"}, Read: readSymbol},
		{Name: "literal", Kinds: []string{"integer", "float", "true", "false", "none", "ellipsis"}, Read: readLiteral},
		{Name: "string", Kinds: []string{"string"}, Read: readString},
		{Name: "call", Kinds: []string{"call"}, Read: readCall},
		{Name: "dictionary", Kinds: []string{"dictionary"}, Read: readDictionary},
		{Name: "sequence", Kinds: []string{"list", "tuple", "set", "expression_list"}, Read: readSequence},
		{Name: "return", Kinds: []string{"return_statement", "raise_statement"}, Read: readReturn},
		{Name: "function", Kinds: []string{"function_definition", "lambda"}, Read: readFunction},
		{Name: "operation", Kinds: []string{
			"binary_operator", "boolean_operator", "comparison_operator", "not_operator",
			"unary_operator", "conditional_expression", "concatenated_string",
			"list_comprehension", "set_comprehension", "generator_expression", "dictionary_comprehension",
		}, Read: readOperation},
		{Name: "attribute", Kinds: []string{"attribute"}, Read: readAttribute},
		{Name: "subscript", Kinds: []string{"subscript"}, Read: readSubscript},
		{Name: "condition", Kinds: []string{"if_statement", "elif_clause", "while_statement", "match_statement"}, Read: readCondition},
		{Name: "with", Kinds: []string{"with_statement"}, Read: readWith},
		{Name: "wrapper", Kinds: []string{
			"expression_statement", "parenthesized_expression", "keyword_argument",
			"list_splat", "dictionary_splat", "await", "interpolation", "pair",
		}, Read: readWrapper},
	}
}

func readParameter(r *syntax.Reader, id graph.NodeID) syntax.Step {
	name := r.Field(id, "name")
	if name == graph.NoNode {
		name = r.Graph.FirstChildOfKind(id, "identifier", "list_splat_pattern", "dictionary_splat_pattern")
	}
	return &syntax.Declaration{
		Meta:  syntax.Meta{ID: id},
		Var:   strings.TrimLeft(r.Text(name), "*"),
		Type:  r.Text(r.Field(id, "type")),
		Value: graph.NoNode,
		Param: true,
		Index: paramIndex(r, id),
	}
}

func paramIndex(r *syntax.Reader, id graph.NodeID) int {
	parent := r.Graph.Parent(id)
	for i, sib := range r.Named(parent) {
		if sib == id {
			return i
		}
	}
	return 0
}

func readFor(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.Declaration{
		Meta:     syntax.Meta{ID: id},
		Var:      r.Text(r.Field(id, "left")),
		Value:    r.Field(id, "right"),
		Iterates: true,
	}
}

func readAlias(r *syntax.Reader, id graph.NodeID) syntax.Step {
	named := r.Named(id)
	alias := r.Field(id, "alias")
	if alias == graph.NoNode && len(named) > 1 {
		alias = named[len(named)-1]
	}
	value := graph.NoNode
	if len(named) > 0 && named[0] != alias {
		value = named[0]
	}
	return &syntax.Declaration{Meta: syntax.Meta{ID: id}, Var: r.Text(alias), Value: value}
}

func readAssignment(r *syntax.Reader, id graph.NodeID) syntax.Step {
	left := r.Field(id, "left")
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
	case "attribute":
		a.Object = r.Field(left, "object")
		a.Member = r.Text(r.Field(left, "attribute"))
	case "subscript":
		a.Object = r.Field(left, "value")
		a.Key = r.Field(left, "subscript")
	case "pattern_list", "tuple_pattern", "list_pattern":
		for _, n := range r.Named(left) {
			a.Names = append(a.Names, r.Text(n))
		}
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
	case "none":
		typ = "null"
	}
	return &syntax.Literal{Meta: syntax.Meta{ID: id}, Type: typ, Value: r.Text(id)}
}

func readString(r *syntax.Reader, id graph.NodeID) syntax.Step {
	var interpolations []graph.NodeID
	for _, c := range r.Graph.Children(id) {
		if r.Kind(c) == "interpolation" {
			interpolations = append(interpolations, c)
		}
	}
	if len(interpolations) > 0 {
		return &syntax.Operation{Meta: syntax.Meta{ID: id}, Operator: "f-string", Operands: interpolations}
	}
	return &syntax.Literal{Meta: syntax.Meta{ID: id}, Type: "string", Value: Unquote(r.Text(id))}
}

// Unquote strips string prefixes and quotes from a Python string literal.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

func readCall(r *syntax.Reader, id graph.NodeID) syntax.Step {
	fn := r.Field(id, "function")
	var args []graph.NodeID
	if list := r.Field(id, "arguments"); list != graph.NoNode {
		if r.Kind(list) == "generator_expression" {
			args = []graph.NodeID{list}
		} else {
			args = r.Named(list)
		}
	}
	switch r.Kind(fn) {
	case "identifier":
		name := r.Text(fn)
		return &syntax.MethodInvocation{Meta: syntax.Meta{ID: id}, Expression: name, Method: name, Object: graph.NoNode, Args: args}
	case "attribute":
		object := r.Field(fn, "object")
		method := r.Text(r.Field(fn, "attribute"))
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

func readDictionary(r *syntax.Reader, id graph.NodeID) syntax.Step {
	obj := &syntax.ObjectInstantiation{Meta: syntax.Meta{ID: id}, TypeName: "dict"}
	for _, p := range r.Graph.ChildrenOfKind(id, "pair") {
		key := r.Field(p, "key")
		obj.Entries = append(obj.Entries, syntax.Entry{
			Key:     keyText(r, key),
			KeyNode: key,
			Value:   r.Field(p, "value"),
		})
	}
	return obj
}

func keyText(r *syntax.Reader, key graph.NodeID) string {
	if r.Kind(key) == "string" {
		return Unquote(r.Text(key))
	}
	return r.Text(key)
}

func readSequence(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ArrayInstantiation{Meta: syntax.Meta{ID: id}, Elements: r.Named(id)}
}

func readReturn(r *syntax.Reader, id graph.NodeID) syntax.Step {
	value := graph.NoNode
	if named := r.Named(id); len(named) > 0 {
		value = named[0]
	}
	return &syntax.Return{Meta: syntax.Meta{ID: id}, Value: value, Throw: r.Kind(id) == "raise_statement"}
}

func readFunction(r *syntax.Reader, id graph.NodeID) syntax.Step {
	name := r.Text(r.Field(id, "name"))
	if r.Kind(id) == "lambda" {
		name = "lambda"
	}
	var params []graph.NodeID
	if p := r.Field(id, "parameters"); p != graph.NoNode {
		params = r.Named(p)
	}
	return &syntax.MethodDeclaration{Meta: syntax.Meta{ID: id}, Name: name, Params: params}
}

func readOperation(r *syntax.Reader, id graph.NodeID) syntax.Step {
	op := &syntax.Operation{Meta: syntax.Meta{ID: id}, Operator: r.Kind(id)}
	switch r.Kind(id) {
	case "binary_operator", "boolean_operator":
		op.Operator = strings.TrimSpace(r.Text(r.Field(id, "operator")))
		op.Operands = present(r.Field(id, "left"), r.Field(id, "right"))
	case "conditional_expression":
		named := r.Named(id)
		if len(named) == 3 {
			op.Operands = []graph.NodeID{named[0], named[2]}
		} else {
			op.Operands = named
		}
	case "list_comprehension", "set_comprehension", "generator_expression", "dictionary_comprehension":
		op.Operands = present(r.Field(id, "body"))
		for _, clause := range r.Graph.ChildrenOfKind(id, "for_in_clause") {
			op.Operands = append(op.Operands, present(r.Field(clause, "right"))...)
		}
	case "not_operator", "unary_operator":
		op.Operands = present(r.Field(id, "argument"))
		if len(op.Operands) == 0 {
			op.Operands = r.Named(id)
		}
	default:
		op.Operands = r.Named(id)
	}
	return op
}

func readAttribute(r *syntax.Reader, id graph.NodeID) syntax.Step {
	expr, ok := dotted(r, id)
	if !ok {
		expr = r.Text(id)
	}
	return &syntax.MemberAccess{
		Meta:       syntax.Meta{ID: id},
		Expression: expr,
		Object:     r.Field(id, "object"),
		Member:     r.Text(r.Field(id, "attribute")),
	}
}

func readSubscript(r *syntax.Reader, id graph.NodeID) syntax.Step {
	return &syntax.ElementAccess{Meta: syntax.Meta{ID: id}, Object: r.Field(id, "value"), Index: r.Field(id, "subscript")}
}

func readCondition(r *syntax.Reader, id graph.NodeID) syntax.Step {
	cond := r.Field(id, "condition")
	if r.Kind(id) == "match_statement" {
		cond = r.Field(id, "subject")
	}
	return &syntax.Condition{Meta: syntax.Meta{ID: id}, Condition: cond}
}

func readWith(r *syntax.Reader, id graph.NodeID) syntax.Step {
	var inner []graph.NodeID
	for _, clause := range r.Graph.ChildrenOfKind(id, "with_clause") {
		for _, item := range r.Graph.ChildrenOfKind(clause, "with_item") {
			if v := r.Field(item, "value"); v != graph.NoNode {
				inner = append(inner, v)
			}
		}
	}
	return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: inner}
}

func readWrapper(r *syntax.Reader, id graph.NodeID) syntax.Step {
	switch r.Kind(id) {
	case "keyword_argument", "pair":
		return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: present(r.Field(id, "value"))}
	case "interpolation":
		if e := r.Field(id, "expression"); e != graph.NoNode {
			return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: []graph.NodeID{e}}
		}
	}
	return &syntax.NoOp{Meta: syntax.Meta{ID: id}, Inner: r.Named(id)}
}

func dotted(r *syntax.Reader, id graph.NodeID) (string, bool) {
	switch r.Kind(id) {
	case "identifier":
		return r.Text(id), true
	case "attribute":
		prefix, ok := dotted(r, r.Field(id, "object"))
		if !ok {
			return "", false
		}
		return prefix + "." + r.Text(r.Field(id, "attribute")), true
	}
	return "", false
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
