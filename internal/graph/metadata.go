package graph

import (
	"sort"
	"strings"
)

// Param is one declared parameter of a method or function.
type Param struct {
	Name string
	Type string
	Node NodeID
}

// Method describes a method, constructor or free function.
type Method struct {
	Name       string
	Class      string
	ReturnType string
	Params     []Param
	Node       NodeID
	Static     bool
}

// Field is a declared class field.
type Field struct {
	Name  string
	Type  string
	Node  NodeID
	Value NodeID
}

// Class describes a class and its members.
type Class struct {
	Name          string
	QualifiedName string
	Parent        string
	Node          NodeID
	Fields        map[string]Field
	Methods       map[string][]Method
}

// NewClass returns a class with initialised member tables.
func NewClass(name, qualified string, node NodeID) *Class {
	return &Class{
		Name:          name,
		QualifiedName: qualified,
		Node:          node,
		Fields:        make(map[string]Field),
		Methods:       make(map[string][]Method),
	}
}

// AddMethod registers m under its name. Overloads accumulate in source order.
func (c *Class) AddMethod(m Method) {
	m.Class = c.Name
	c.Methods[m.Name] = append(c.Methods[m.Name], m)
}

// Method returns the overload of name that best fits arity, preferring an exact
// parameter count and falling back to the first declared overload.
func (c *Class) Method(name string, arity int) (Method, bool) {
	overloads := c.Methods[name]
	if len(overloads) == 0 {
		return Method{}, false
	}
	for _, m := range overloads {
		if len(m.Params) == arity {
			return m, true
		}
	}
	return overloads[0], true
}

// Metadata is the per-file symbol table extracted from a graph.
type Metadata struct {
	Package string
	// Imports maps a local alias to the qualified name it refers to.
	Imports map[string]string
	// Classes is keyed by both the short and the qualified class name.
	Classes   map[string]*Class
	Functions map[string]Method
}

// NewMetadata returns empty metadata.
func NewMetadata() *Metadata {
	return &Metadata{
		Imports:   make(map[string]string),
		Classes:   make(map[string]*Class),
		Functions: make(map[string]Method),
	}
}

// AddClass registers c under its short and qualified names.
func (m *Metadata) AddClass(c *Class) {
	if _, taken := m.Classes[c.Name]; !taken {
		m.Classes[c.Name] = c
	}
	if c.QualifiedName != "" {
		m.Classes[c.QualifiedName] = c
	}
}

// Class returns the class registered under name.
func (m *Metadata) Class(name string) (*Class, bool) {
	c, ok := m.Classes[name]
	return c, ok
}

// UniqueClasses returns every class once, ordered by declaration node.
func (m *Metadata) UniqueClasses() []*Class {
	seen := make(map[*Class]bool)
	var out []*Class
	for _, c := range m.Classes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// ClassAt returns the class whose declaration node is id.
func (m *Metadata) ClassAt(id NodeID) (*Class, bool) {
	for _, c := range m.Classes {
		if c.Node == id {
			return c, true
		}
	}
	return nil, false
}

// Resolve rewrites the leading segment of a dotted name through the import table.
func (m *Metadata) Resolve(dotted string) string {
	if m == nil || dotted == "" {
		return dotted
	}
	head, rest, found := strings.Cut(dotted, ".")
	target, ok := m.Imports[head]
	if !ok {
		return dotted
	}
	if !found {
		return target
	}
	return target + "." + rest
}

// Qualify joins a package and a name with a dot, skipping an empty package.
func Qualify(pkg, name string) string {
	if pkg == "" {
		return name
	}
	return pkg + "." + name
}

// BaseTypeName strips generic arguments, array suffixes and qualifiers from a type name.
func BaseTypeName(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.IndexAny(t, "<["); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSuffix(t, "...")
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}

// LastSegment returns the part of a dotted name after its last dot.
func LastSegment(dotted string) string {
	if i := strings.LastIndex(dotted, "."); i >= 0 {
		return dotted[i+1:]
	}
	return dotted
}
