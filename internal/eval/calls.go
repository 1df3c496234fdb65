package eval

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// maxParentDepth bounds the superclass chain walked during method lookup.
const maxParentDepth = 8

var (
	mappingTypes = map[string]bool{
		"Map": true, "HashMap": true, "LinkedHashMap": true, "TreeMap": true, "ConcurrentHashMap": true,
		"Hashtable": true, "Properties": true, "dict": true, "Object": true, "WeakMap": true,
		"defaultdict": true, "OrderedDict": true,
	}
	sequenceTypes = map[string]bool{
		"List": true, "ArrayList": true, "LinkedList": true, "Vector": true, "Stack": true,
		"ArrayDeque": true, "Deque": true, "Queue": true, "Set": true, "HashSet": true,
		"LinkedHashSet": true, "TreeSet": true, "Array": true, "list": true, "set": true,
		"tuple": true, "deque": true,
	}
	// builders mutate their receiver with their arguments.
	builders = map[string]bool{
		"append": true, "insert": true, "write": true, "extend": true,
		"update": true, "putAll": true, "addAll": true, "prepend": true,
	}
)

func (e *Evaluator) invocation(f *frame, id graph.NodeID, expr, method string, object graph.NodeID, argNodes []graph.NodeID) Cell {
	var recv Cell
	if object != graph.NoNode {
		recv = e.eval(f, object)
	}
	args := e.evalAll(f, argNodes)
	if e.err != nil {
		return Cell{}
	}
	if object != graph.NoNode && method != "" {
		if c, ok := e.collection(f, object, recv, method, argNodes, args); ok {
			return c
		}
	}
	if c, ok := e.resolveCall(f, id, expr, method, object, recv, args); ok {
		return c
	}

	danger := recv.Tainted() || anyTainted(args)
	if !danger || !e.catalog.Propagates(e.rule, f.shard.Language, method) {
		return Cell{}
	}
	if builders[method] && anyTainted(args) {
		if sym, ok := f.shard.Steps.At(object).(*syntax.SymbolLookup); ok {
			if b, bound := f.lookup(sym.Symbol); bound {
				b.Danger = true
			}
		}
	}
	return Cell{Danger: true}
}

// collection applies mapping and sequence operations to tracked values.
func (e *Evaluator) collection(f *frame, object graph.NodeID, recv Cell, method string, argNodes []graph.NodeID, args []Cell) (Cell, bool) {
	v := recv.Value
	if v == nil || (v.Kind != Mapping && v.Kind != Sequence) {
		switch {
		case mappingWriter(method) && len(args) >= 2:
			v = e.ensure(f, object, Mapping)
		case sequenceWriter(method) && len(args) >= 1:
			v = e.ensure(f, object, Sequence)
		}
		if v == nil {
			return Cell{}, false
		}
	}
	key := func(i int) string { return e.keyOf(f, argNodes[i], args[i]) }
	switch v.Kind {
	case Mapping:
		return mappingOp(v, method, args, key)
	case Sequence:
		return sequenceOp(v, method, args, key)
	}
	return Cell{}, false
}

func mappingWriter(method string) bool {
	switch method {
	case "put", "set", "setdefault", "putIfAbsent":
		return true
	}
	return false
}

func sequenceWriter(method string) bool {
	switch method {
	case "add", "append", "push", "offer", "addLast", "addFirst", "unshift", "insert":
		return true
	}
	return false
}

func mappingOp(v *Value, method string, args []Cell, key func(int) string) (Cell, bool) {
	switch method {
	case "put", "set", "setdefault", "putIfAbsent":
		if len(args) < 2 {
			return Cell{}, true
		}
		k := key(0)
		v.put(k, args[1])
		if method == "setdefault" {
			return v.Entries[k], true
		}
		return Cell{}, true
	case "get", "getOrDefault":
		if len(args) == 0 {
			return Cell{}, false
		}
		c, ok := v.Entries[key(0)]
		if !ok && len(args) > 1 {
			c = args[1]
		}
		return c, true
	case "pop", "remove":
		if len(args) == 0 {
			return Cell{}, false
		}
		k := key(0)
		c := v.Entries[k]
		delete(v.Entries, k)
		return c, true
	case "has", "containsKey", "__contains__", "keys", "keySet", "size", "clear":
		return Cell{}, true
	case "values", "items", "entrySet", "entries":
		var items []Cell
		for _, c := range v.Entries {
			items = append(items, c)
		}
		return Cell{Value: newSequence(items...)}, true
	case "update", "putAll":
		if len(args) == 1 && args[0].Value != nil && args[0].Value.Kind == Mapping {
			for k, c := range args[0].Value.Entries {
				v.put(k, c)
			}
			return Cell{}, true
		}
	}
	return Cell{}, false
}

func sequenceOp(v *Value, method string, args []Cell, key func(int) string) (Cell, bool) {
	n := len(v.Items)
	switch method {
	case "add", "append", "push", "offer", "addLast", "insert":
		if len(args) == 0 {
			return Cell{}, true
		}
		if method == "push" {
			v.Items = append(v.Items, args...)
			return Cell{}, true
		}
		// add(index, element) and insert(index, element) keep the last argument.
		v.Items = append(v.Items, args[len(args)-1])
		return Cell{}, true
	case "unshift", "addFirst":
		v.Items = append(append([]Cell(nil), args...), v.Items...)
		return Cell{}, true
	case "extend", "addAll":
		for _, a := range args {
			if a.Value != nil && a.Value.Kind == Sequence {
				v.Items = append(v.Items, a.Value.Items...)
			} else {
				v.Items = append(v.Items, Cell{Danger: a.Tainted()})
			}
		}
		return Cell{}, true
	case "get", "elementAt":
		if len(args) == 0 {
			return Cell{}, false
		}
		if i, ok := v.index(key(0)); ok {
			return v.Items[i], true
		}
		return Cell{Danger: v.elements()}, true
	case "pop", "removeLast", "pollLast":
		if n == 0 {
			return Cell{}, true
		}
		i := n - 1
		if len(args) > 0 {
			var ok bool
			if i, ok = v.index(key(0)); !ok {
				return Cell{Danger: v.elements()}, true
			}
		}
		c := v.Items[i]
		v.Items = append(v.Items[:i:i], v.Items[i+1:]...)
		return c, true
	case "shift", "poll", "removeFirst", "pollFirst":
		if n == 0 {
			return Cell{}, true
		}
		c := v.Items[0]
		v.Items = append([]Cell(nil), v.Items[1:]...)
		return c, true
	case "remove":
		if len(args) == 0 || n == 0 {
			return Cell{}, true
		}
		if i, ok := v.index(key(0)); ok {
			c := v.Items[i]
			v.Items = append(v.Items[:i:i], v.Items[i+1:]...)
			return c, true
		}
		return Cell{}, true
	case "peek", "peekFirst", "getFirst", "first":
		if n == 0 {
			return Cell{}, true
		}
		return v.Items[0], true
	case "getLast", "peekLast", "last":
		if n == 0 {
			return Cell{}, true
		}
		return v.Items[n-1], true
	case "concat":
		out := newSequence(v.Items...)
		for _, a := range args {
			if a.Value != nil && a.Value.Kind == Sequence {
				out.Items = append(out.Items, a.Value.Items...)
			} else {
				out.Items = append(out.Items, a)
			}
		}
		return Cell{Value: out}, true
	case "slice", "subList", "copy", "reversed", "sorted":
		return Cell{Value: newSequence(v.Items...)}, true
	case "size", "length", "clear", "contains", "includes", "indexOf", "isEmpty":
		return Cell{}, true
	}
	return Cell{}, false
}

// resolveCall evaluates calls whose target is a known function or method:
// a method of the current class, a free function of this or an imported
// module, or a method of a typed variable, instance or class.
func (e *Evaluator) resolveCall(f *frame, id graph.NodeID, expr, method string, object graph.NodeID, recv Cell, args []Cell) (Cell, bool) {
	if method == "" {
		return Cell{}, false
	}
	if object == graph.NoNode {
		return e.resolveBare(f, id, method, args)
	}

	sym, isSym := f.shard.Steps.At(object).(*syntax.SymbolLookup)
	if isSym {
		switch sym.Symbol {
		case "this", "self":
			if f.instance == nil {
				return Cell{}, false
			}
			return e.callMethod(f, f.instance.ref(), method, f.instance, args)
		case "super":
			if f.instance == nil || f.instance.Class.Parent == "" {
				return Cell{}, false
			}
			parent, ok := e.db.LookupClass(f.instance.Class.Parent, f.instance.Shard)
			if !ok {
				return Cell{}, false
			}
			return e.callMethod(f, parent, method, f.instance, args)
		}
	}
	if recv.Value != nil && recv.Value.Kind == Object {
		in := recv.Value.Instance
		return e.callMethod(f, in.ref(), method, in, args)
	}
	if isSym {
		if b, bound := f.lookup(sym.Symbol); bound {
			if b.typ == "" {
				return Cell{}, false
			}
			ref, ok := e.db.LookupClass(b.typ, f.shard)
			if !ok {
				return Cell{}, false
			}
			return e.callMethod(f, ref, method, newInstance(ref), args)
		}
		if ref, ok := e.db.LookupClass(sym.Symbol, f.shard); ok {
			return e.callMethod(f, ref, method, nil, args)
		}
	}
	if expr != "" {
		if fr, ok := e.db.LookupQualified(f.shard.Meta.Resolve(expr)); ok {
			return e.invoke(f, fr.Shard, fr.Method, nil, args)
		}
	}
	return Cell{}, false
}

func (e *Evaluator) resolveBare(f *frame, id graph.NodeID, name string, args []Cell) (Cell, bool) {
	if f.shard.Language == graph.Java {
		if ref, in, ok := e.currentClass(f, id); ok {
			if c, ok := e.callMethod(f, ref, name, in, args); ok {
				return c, true
			}
		}
	}
	if m, ok := f.shard.Meta.Functions[name]; ok {
		return e.invoke(f, f.shard, m, nil, args)
	}
	if q, ok := f.shard.Meta.Imports[name]; ok {
		if fr, ok := e.db.LookupQualified(q); ok {
			return e.invoke(f, fr.Shard, fr.Method, nil, args)
		}
		if f.shard.Language == graph.Python {
			if ref, ok := e.db.LookupClass(q, f.shard); ok {
				return e.construct(f, ref, args), true
			}
		}
	}
	if f.shard.Language == graph.Python {
		if ref, ok := e.db.LookupClass(name, f.shard); ok {
			return e.construct(f, ref, args), true
		}
	}
	return Cell{}, false
}

func (e *Evaluator) currentClass(f *frame, id graph.NodeID) (shard.ClassRef, *Instance, bool) {
	if f.instance != nil {
		return f.instance.ref(), f.instance, true
	}
	class, ok := f.shard.EnclosingClass(id)
	if !ok {
		return shard.ClassRef{}, nil, false
	}
	return shard.ClassRef{Shard: f.shard, Class: class}, nil, true
}

// findMethod looks name up in ref's class and then its superclasses.
func (e *Evaluator) findMethod(ref shard.ClassRef, name string, arity int) (shard.ClassRef, graph.Method, bool) {
	for i := 0; i < maxParentDepth && ref.Class != nil; i++ {
		if m, ok := ref.Class.Method(name, arity); ok {
			return ref, m, true
		}
		if ref.Class.Parent == "" {
			break
		}
		next, ok := e.db.LookupClass(ref.Class.Parent, ref.Shard)
		if !ok || next.Class == ref.Class {
			break
		}
		ref = next
	}
	return shard.ClassRef{}, graph.Method{}, false
}

func (e *Evaluator) callMethod(f *frame, ref shard.ClassRef, name string, in *Instance, args []Cell) (Cell, bool) {
	owner, m, ok := e.findMethod(ref, name, len(args))
	if !ok {
		return Cell{}, false
	}
	if m.Static {
		in = nil
	}
	return e.invoke(f, owner.Shard, m, in, args)
}

// construct creates an instance of a known class and runs its constructor.
func (e *Evaluator) construct(f *frame, ref shard.ClassRef, args []Cell) Cell {
	in := newInstance(ref)
	for _, name := range []string{ref.Class.Name, "__init__", "constructor"} {
		if _, ok := e.callMethod(f, ref, name, in, args); ok {
			break
		}
	}
	return Cell{Value: in.value()}
}

// invoke evaluates the body of m with args bound to its parameters. Results
// are memoized by callee, argument danger and receiver state. Re-entering a
// call already in progress, or exceeding the call depth, yields the
// conservative result: dangerous if any argument is.
func (e *Evaluator) invoke(f *frame, s *shard.Shard, m graph.Method, in *Instance, args []Cell) (Cell, bool) {
	fn, ok := s.Flow.FunctionAt(m.Node)
	if !ok {
		return Cell{}, false
	}
	conservative := Cell{Danger: anyTainted(args)}
	if f.depth+1 > e.budget.MaxCallDepth {
		return conservative, true
	}
	key := memoKey{path: s.Path, root: fn.Root, args: fingerprint(args), instance: in.fingerprint()}
	if e.active[key] {
		return conservative, true
	}
	if r, ok := e.memo[key]; ok {
		c := newCopier(receiver, in)
		in.merge(c.fields(r.fields))
		e.truncated = e.truncated || r.truncated
		return c.cell(r.ret), true
	}
	e.active[key] = true
	defer delete(e.active, key)

	paths, truncated := e.paths(s.Flow, fn, fn.Exit)
	e.truncated = e.truncated || truncated
	var ret Cell
	for _, p := range paths {
		callee := e.newFrame(s, fn, in, args, f.depth+1)
		for _, id := range p {
			e.exec(callee, id)
		}
		ret = mergeCells(ret, callee.ret)
	}
	if e.err != nil {
		return Cell{}, true
	}
	c := newCopier(in, receiver)
	e.memo[key] = calleeResult{ret: c.cell(ret), fields: c.fields(in.snapshot()), truncated: truncated}
	return ret, true
}

func (e *Evaluator) instantiate(f *frame, st *syntax.ObjectInstantiation) Cell {
	args := e.evalAll(f, st.Args)
	base := graph.BaseTypeName(st.TypeName)
	switch {
	case len(st.Entries) > 0 || st.TypeName == "dict" || st.TypeName == "Object":
		m := newMapping()
		for _, a := range args {
			if a.Value != nil && a.Value.Kind == Mapping {
				for k, c := range a.Value.Entries {
					m.put(k, c)
				}
			}
		}
		for _, en := range st.Entries {
			k := en.Key
			if en.KeyNode != graph.NoNode {
				k = e.keyOf(f, en.KeyNode, e.eval(f, en.KeyNode))
			}
			m.put(k, e.eval(f, en.Value))
		}
		return Cell{Value: m}
	case mappingTypes[base]:
		m := newMapping()
		if len(args) > 0 && args[0].Value != nil && args[0].Value.Kind == Mapping {
			for k, c := range args[0].Value.Entries {
				m.put(k, c)
			}
		}
		return Cell{Value: m}
	case sequenceTypes[base]:
		seq := newSequence()
		for _, a := range args {
			if a.Value != nil && a.Value.Kind == Sequence {
				seq.Items = append(seq.Items, a.Value.Items...)
			}
		}
		return Cell{Value: seq}
	}
	if ref, ok := e.db.LookupClass(strings.TrimSpace(st.TypeName), f.shard); ok {
		return e.construct(f, ref, args)
	}
	// Unknown classes carry their arguments only when the catalog lists the
	// type name as a propagator, the same as any other unresolved call.
	return Cell{Danger: anyTainted(args) && e.catalog.Propagates(e.rule, f.shard.Language, base)}
}

func anyTainted(cells []Cell) bool {
	for _, c := range cells {
		if c.Tainted() {
			return true
		}
	}
	return false
}

func fingerprint(cells []Cell) string {
	b := make([]byte, len(cells))
	for i, c := range cells {
		if c.Tainted() {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
