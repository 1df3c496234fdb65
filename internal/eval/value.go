package eval

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

// Kind enumerates the symbolic value shapes the evaluator tracks.
type Kind int

const (
	Unset Kind = iota
	String
	Sequence
	Mapping
	Object
)

// Value is a symbolic value. Sequences, mappings and objects are mutable and
// shared by every binding that refers to them.
type Value struct {
	Kind     Kind
	Str      string
	Items    []Cell
	Entries  map[string]Cell
	Instance *Instance
}

// Cell pairs a value with its danger bit.
type Cell struct {
	Danger bool
	Value  *Value
}

// Tainted reports whether the cell or anything it contains is dangerous.
func (c Cell) Tainted() bool {
	return c.Danger || c.Value.contains(3)
}

func (v *Value) contains(depth int) bool {
	if v == nil || depth == 0 {
		return false
	}
	switch v.Kind {
	case Sequence:
		for _, it := range v.Items {
			if it.Danger || it.Value.contains(depth-1) {
				return true
			}
		}
	case Mapping:
		for _, it := range v.Entries {
			if it.Danger || it.Value.contains(depth-1) {
				return true
			}
		}
	case Object:
		if v.Instance != nil {
			for _, it := range v.Instance.Fields {
				if it.Danger {
					return true
				}
			}
		}
	}
	return false
}

// elements returns the merged danger of every element, the way one
// iteration over the value would see it.
func (v *Value) elements() bool {
	if v == nil {
		return false
	}
	switch v.Kind {
	case Sequence:
		for _, it := range v.Items {
			if it.Tainted() {
				return true
			}
		}
	case Mapping:
		for _, it := range v.Entries {
			if it.Tainted() {
				return true
			}
		}
	}
	return false
}

func newString(s string) *Value { return &Value{Kind: String, Str: s} }

func newSequence(items ...Cell) *Value {
	return &Value{Kind: Sequence, Items: append([]Cell(nil), items...)}
}

func newMapping() *Value { return &Value{Kind: Mapping, Entries: make(map[string]Cell)} }

// index parses a sequence index, counting negative indices from the end.
func (v *Value) index(key string) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, false
	}
	if i < 0 {
		i += len(v.Items)
	}
	if i < 0 || i >= len(v.Items) {
		return 0, false
	}
	return i, true
}

// Instance is an object of a known class. Field state is threaded through
// method calls made on it.
type Instance struct {
	Class  *graph.Class
	Shard  *shard.Shard
	Fields map[string]Cell
}

func newInstance(ref shard.ClassRef) *Instance {
	return &Instance{Class: ref.Class, Shard: ref.Shard, Fields: make(map[string]Cell)}
}

func (in *Instance) value() *Value {
	if in == nil {
		return nil
	}
	return &Value{Kind: Object, Instance: in}
}

func (in *Instance) ref() shard.ClassRef {
	return shard.ClassRef{Shard: in.Shard, Class: in.Class}
}

// fingerprint identifies the danger state of the instance for memoization.
func (in *Instance) fingerprint() string {
	if in == nil {
		return "-"
	}
	names := make([]string, 0, len(in.Fields))
	for name := range in.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(in.Class.QualifiedName)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		if in.Fields[name].Tainted() {
			b.WriteString("=1")
		} else {
			b.WriteString("=0")
		}
	}
	return b.String()
}

func (in *Instance) snapshot() map[string]Cell {
	if in == nil {
		return nil
	}
	out := make(map[string]Cell, len(in.Fields))
	for k, v := range in.Fields {
		out[k] = v
	}
	return out
}

// merge folds field cells into the instance without ever clearing danger.
func (in *Instance) merge(fields map[string]Cell) {
	if in == nil {
		return
	}
	for name, c := range fields {
		prev := in.Fields[name]
		if c.Value == nil {
			c.Value = prev.Value
		}
		c.Danger = c.Danger || prev.Danger
		in.Fields[name] = c
	}
}

// copier deep-copies values, keeping aliasing inside the copied graph.
// Memoized callee results are stored and handed out as copies so a caller
// mutating one result never changes what a later call sees.
type copier struct {
	values    map[*Value]*Value
	instances map[*Instance]*Instance
}

// receiver stands in for the callee's receiver inside stored results.
var receiver = &Instance{}

func newCopier(from, to *Instance) *copier {
	c := &copier{values: make(map[*Value]*Value), instances: make(map[*Instance]*Instance)}
	if from != nil && to != nil {
		c.instances[from] = to
	}
	return c
}

func (c *copier) cell(in Cell) Cell {
	return Cell{Danger: in.Danger, Value: c.value(in.Value)}
}

func (c *copier) value(v *Value) *Value {
	if v == nil {
		return nil
	}
	if dup, ok := c.values[v]; ok {
		return dup
	}
	dup := &Value{Kind: v.Kind, Str: v.Str}
	c.values[v] = dup
	switch v.Kind {
	case Sequence:
		dup.Items = make([]Cell, len(v.Items))
		for i, it := range v.Items {
			dup.Items[i] = c.cell(it)
		}
	case Mapping:
		dup.Entries = c.fields(v.Entries)
	case Object:
		dup.Instance = c.instance(v.Instance)
	}
	return dup
}

func (c *copier) instance(in *Instance) *Instance {
	if in == nil {
		return nil
	}
	if dup, ok := c.instances[in]; ok {
		return dup
	}
	dup := &Instance{Class: in.Class, Shard: in.Shard}
	c.instances[in] = dup
	dup.Fields = c.fields(in.Fields)
	return dup
}

func (c *copier) fields(m map[string]Cell) map[string]Cell {
	if m == nil {
		return nil
	}
	out := make(map[string]Cell, len(m))
	for k, v := range m {
		out[k] = c.cell(v)
	}
	return out
}
