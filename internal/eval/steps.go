package eval

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// exec replays one statement of a path.
func (e *Evaluator) exec(f *frame, id graph.NodeID) {
	if f.fn != nil && id == f.fn.Root {
		e.enter(f, id)
		return
	}
	if f.fn != nil && f.fn.Exit == id {
		return
	}
	c := e.eval(f, id)
	if f.fn != nil && e.expressionBody(f, id) {
		f.ret = mergeCells(f.ret, c)
		f.returned = true
	}
}

// expressionBody reports whether id is the expression body of an arrow
// function or lambda, whose value is returned implicitly.
func (e *Evaluator) expressionBody(f *frame, id graph.NodeID) bool {
	g := f.shard.Graph
	switch g.Kind(f.fn.Root) {
	case "arrow_function", "lambda", "lambda_expression":
	default:
		return false
	}
	if g.ChildByField(f.fn.Root, "body") != id {
		return false
	}
	switch g.Kind(id) {
	case "statement_block", "block":
		return false
	}
	return true
}

// enter binds the parameters of the function rooted at root.
func (e *Evaluator) enter(f *frame, root graph.NodeID) {
	f.danger[root] = false
	st, ok := f.shard.Steps.At(root).(*syntax.MethodDeclaration)
	if !ok {
		return
	}
	params := st.Params
	if e.boundMethod(f, root) && len(params) > 0 {
		params = params[1:]
	}
	for i, p := range params {
		var c Cell
		name, typ := e.paramName(f, p)
		supplied := f.args != nil && i < len(f.args)
		switch {
		case supplied && strings.HasPrefix(f.shard.Graph.Content(p), "*"):
			for _, a := range f.args[i:] {
				c.Danger = c.Danger || a.Tainted()
			}
		case supplied:
			c = f.args[i]
		default:
			if d, ok := f.shard.Steps.At(p).(*syntax.Declaration); ok && d.Value != graph.NoNode {
				c = e.eval(f, d.Value)
			}
		}
		if e.labelled(f, p) {
			c.Danger = true
		}
		f.bind(name, c, typ)
		f.danger[p] = c.Tainted()
	}
}

// boundMethod reports whether root is a Python instance or class method,
// whose first parameter is the receiver.
func (e *Evaluator) boundMethod(f *frame, root graph.NodeID) bool {
	if f.shard.Language != graph.Python {
		return false
	}
	class, ok := f.shard.EnclosingClass(root)
	if !ok {
		return false
	}
	for _, overloads := range class.Methods {
		for _, m := range overloads {
			if m.Node == root {
				return !m.Static
			}
		}
	}
	return false
}

func (e *Evaluator) paramName(f *frame, p graph.NodeID) (string, string) {
	switch st := f.shard.Steps.At(p).(type) {
	case *syntax.Declaration:
		return firstName(st.Var), st.Type
	case *syntax.SymbolLookup:
		return st.Symbol, ""
	}
	return strings.TrimLeft(strings.TrimSpace(f.shard.Graph.Content(p)), "*."), ""
}

// eval evaluates the step lowered from id, recording its danger in the frame.
func (e *Evaluator) eval(f *frame, id graph.NodeID) Cell {
	if id == graph.NoNode || !e.tick() {
		return Cell{}
	}
	var c Cell
	switch st := f.shard.Steps.At(id).(type) {
	case *syntax.Literal:
		c = Cell{Value: newString(st.Value)}
	case *syntax.SymbolLookup:
		c = e.symbol(f, st)
	case *syntax.Declaration:
		c = e.declare(f, st)
	case *syntax.Assignment:
		c = e.assign(f, st)
	case *syntax.MethodInvocation:
		c = e.invocation(f, st.ID, st.Expression, st.Method, st.Object, st.Args)
	case *syntax.MethodInvocationChain:
		c = e.invocation(f, st.ID, "", st.Method, st.Object, st.Args)
	case *syntax.ObjectInstantiation:
		c = e.instantiate(f, st)
	case *syntax.ArrayInstantiation:
		c = Cell{Value: newSequence(e.evalAll(f, st.Elements)...)}
	case *syntax.Return:
		c = e.eval(f, st.Value)
		if !st.Throw {
			f.ret = mergeCells(f.ret, c)
			f.returned = true
		}
	case *syntax.MethodDeclaration:
		// Nested functions run when they are called.
	case *syntax.Operation:
		c = e.operation(f, st)
	case *syntax.MemberAccess:
		c = e.member(f, st)
	case *syntax.ElementAccess:
		c = e.element(f, st)
	case *syntax.Condition:
		c = e.eval(f, st.Condition)
	case *syntax.NoOp:
		if len(st.Inner) == 1 {
			c = e.eval(f, st.Inner[0])
			break
		}
		for _, inner := range st.Inner {
			c.Danger = e.eval(f, inner).Tainted() || c.Danger
		}
	}
	if e.labelled(f, id) {
		c.Danger = true
	}
	f.danger[id] = c.Tainted()
	return c
}

func (e *Evaluator) evalAll(f *frame, ids []graph.NodeID) []Cell {
	out := make([]Cell, len(ids))
	for i, id := range ids {
		out[i] = e.eval(f, id)
	}
	return out
}

func (e *Evaluator) labelled(f *frame, id graph.NodeID) bool {
	return f.shard.Labels.IsSource(id, e.rule.ID)
}

func (e *Evaluator) symbol(f *frame, st *syntax.SymbolLookup) Cell {
	if isSelf(st.Symbol) {
		return Cell{Value: f.instance.value()}
	}
	if b, ok := f.lookup(st.Symbol); ok {
		return b.Cell
	}
	if f.instance != nil && f.shard.Language == graph.Java {
		if c, ok := e.readField(f.instance, st.Symbol); ok {
			return c
		}
	}
	return Cell{}
}

// readField reads a field of in. Fields never written in this evaluation
// carry the danger of their declaration's source label.
func (e *Evaluator) readField(in *Instance, name string) (Cell, bool) {
	if c, ok := in.Fields[name]; ok {
		return c, true
	}
	field, ok := in.Class.Fields[name]
	if !ok {
		return Cell{}, false
	}
	return Cell{Danger: in.Shard.Labels.IsSource(field.Node, e.rule.ID)}, true
}

func (in *Instance) write(name string, c Cell) {
	prev := in.Fields[name]
	c.Danger = c.Danger || prev.Danger
	in.Fields[name] = c
}

func (e *Evaluator) declare(f *frame, st *syntax.Declaration) Cell {
	if st.Param {
		if b, ok := f.lookup(firstName(st.Var)); ok {
			return b.Cell
		}
		return Cell{}
	}
	c := e.eval(f, st.Value)
	if st.Iterates {
		c = Cell{Danger: c.Tainted() || c.Value.elements()}
	}
	if e.labelled(f, st.ID) {
		c.Danger = true
	}
	names := splitNames(st.Var)
	if len(names) == 1 {
		f.bind(names[0], c, st.Type)
		return c
	}
	for i, name := range names {
		f.bind(name, elementCell(c, i), st.Type)
	}
	return c
}

func (e *Evaluator) assign(f *frame, st *syntax.Assignment) Cell {
	rhs := e.eval(f, st.Value)
	if st.Operator != "=" && st.Operator != "" {
		rhs.Value = nil
	}
	if e.labelled(f, st.ID) {
		rhs.Danger = true
	}
	switch {
	case len(st.Names) > 0:
		for i, name := range st.Names {
			f.bind(strings.TrimSpace(name), elementCell(rhs, i), "")
		}
	case st.Member != "" && st.Object != graph.NoNode:
		e.writeMember(f, st.Object, st.Member, rhs)
	case st.Key != graph.NoNode && st.Object != graph.NoNode:
		e.writeElement(f, st.Object, st.Key, rhs)
	default:
		e.writeName(f, st.Target, rhs)
	}
	return rhs
}

func (e *Evaluator) writeName(f *frame, name string, c Cell) {
	name = strings.TrimSpace(name)
	if _, bound := f.lookup(name); !bound && f.instance != nil && f.shard.Language == graph.Java {
		if _, isField := f.instance.Class.Fields[name]; isField {
			f.instance.write(name, c)
			return
		}
	}
	f.bind(name, c, "")
}

func (e *Evaluator) writeMember(f *frame, object graph.NodeID, member string, c Cell) {
	if sym, ok := f.shard.Steps.At(object).(*syntax.SymbolLookup); ok && isSelf(sym.Symbol) {
		f.danger[object] = false
		if f.instance != nil {
			f.instance.write(member, c)
		}
		return
	}
	obj := e.eval(f, object)
	v := obj.Value
	if v == nil {
		v = e.ensure(f, object, Mapping)
	}
	if v == nil {
		return
	}
	switch v.Kind {
	case Object:
		v.Instance.write(member, c)
	case Mapping:
		v.put(member, c)
	}
}

func (e *Evaluator) writeElement(f *frame, object, key graph.NodeID, c Cell) {
	obj := e.eval(f, object)
	k := e.keyOf(f, key, e.eval(f, key))
	v := obj.Value
	if v == nil {
		v = e.ensure(f, object, Mapping)
	}
	if v == nil {
		return
	}
	switch v.Kind {
	case Mapping:
		v.put(k, c)
	case Sequence:
		if i, ok := v.index(k); ok {
			v.Items[i] = Cell{Danger: c.Danger || v.Items[i].Danger, Value: c.Value}
		} else {
			v.Items = append(v.Items, c)
		}
	}
}

func (v *Value) put(key string, c Cell) {
	prev := v.Entries[key]
	c.Danger = c.Danger || prev.Danger
	v.Entries[key] = c
}

// ensure attaches a fresh collection to an untracked, clean variable or
// receiver field so later reads become key sensitive.
func (e *Evaluator) ensure(f *frame, object graph.NodeID, kind Kind) *Value {
	fresh := &Value{Kind: kind}
	if kind == Mapping {
		fresh.Entries = make(map[string]Cell)
	}
	switch st := f.shard.Steps.At(object).(type) {
	case *syntax.SymbolLookup:
		if isSelf(st.Symbol) {
			return nil
		}
		b, ok := f.lookup(st.Symbol)
		if !ok {
			f.bind(st.Symbol, Cell{Value: fresh}, "")
			return fresh
		}
		if b.Value != nil || b.Danger {
			return nil
		}
		b.Value = fresh
		return fresh
	case *syntax.MemberAccess:
		sym, ok := f.shard.Steps.At(st.Object).(*syntax.SymbolLookup)
		if !ok || !isSelf(sym.Symbol) || f.instance == nil {
			return nil
		}
		prev := f.instance.Fields[st.Member]
		if prev.Value != nil || prev.Danger {
			return nil
		}
		f.instance.Fields[st.Member] = Cell{Value: fresh}
		return fresh
	}
	return nil
}

// keyOf derives a mapping key: the string value when known, else a symbolic
// key built from the variable name or the key's source text.
func (e *Evaluator) keyOf(f *frame, node graph.NodeID, c Cell) string {
	if c.Value != nil && c.Value.Kind == String {
		return c.Value.Str
	}
	if sym, ok := f.shard.Steps.At(node).(*syntax.SymbolLookup); ok {
		return "$" + sym.Symbol
	}
	return f.shard.Graph.Content(node)
}

func (e *Evaluator) operation(f *frame, st *syntax.Operation) Cell {
	var (
		c      Cell
		b      strings.Builder
		concat = st.Operator == "+" && len(st.Operands) > 0
	)
	for _, o := range st.Operands {
		oc := e.eval(f, o)
		c.Danger = c.Danger || oc.Tainted()
		if concat && oc.Value != nil && oc.Value.Kind == String {
			b.WriteString(oc.Value.Str)
		} else {
			concat = false
		}
	}
	if concat {
		c.Value = newString(b.String())
	}
	return c
}

func (e *Evaluator) member(f *frame, st *syntax.MemberAccess) Cell {
	if sym, ok := f.shard.Steps.At(st.Object).(*syntax.SymbolLookup); ok && isSelf(sym.Symbol) {
		f.danger[st.Object] = false
		if f.instance == nil {
			return Cell{}
		}
		c, _ := e.readField(f.instance, st.Member)
		return c
	}
	obj := e.eval(f, st.Object)
	if v := obj.Value; v != nil {
		switch v.Kind {
		case Object:
			c, _ := e.readField(v.Instance, st.Member)
			return c
		case Mapping:
			return v.Entries[st.Member]
		}
	}
	return Cell{Danger: obj.Tainted()}
}

func (e *Evaluator) element(f *frame, st *syntax.ElementAccess) Cell {
	obj := e.eval(f, st.Object)
	idx := e.eval(f, st.Index)
	v := obj.Value
	if v == nil {
		return Cell{Danger: obj.Tainted()}
	}
	k := e.keyOf(f, st.Index, idx)
	switch v.Kind {
	case Mapping:
		return v.Entries[k]
	case Sequence:
		if i, ok := v.index(k); ok {
			return v.Items[i]
		}
		return Cell{Danger: v.elements()}
	}
	return Cell{Danger: obj.Tainted()}
}

func mergeCells(a, b Cell) Cell {
	out := Cell{Danger: a.Tainted() || b.Tainted(), Value: a.Value}
	if out.Value == nil {
		out.Value = b.Value
	}
	return out
}

func elementCell(c Cell, i int) Cell {
	if c.Value != nil && c.Value.Kind == Sequence && i < len(c.Value.Items) {
		return c.Value.Items[i]
	}
	return Cell{Danger: c.Tainted()}
}

func isSelf(name string) bool {
	return name == "this" || name == "self"
}

func splitNames(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

func firstName(v string) string {
	return splitNames(v)[0]
}
