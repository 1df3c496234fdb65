package graph

// Builder assembles a Graph node by node. The first node added is the root.
type Builder struct {
	nodes  []Node
	source []byte
}

// NewBuilder returns a builder over source, which may be nil.
func NewBuilder(source []byte) *Builder {
	return &Builder{source: source}
}

// Add appends a node under parent (NoNode for the root) and returns its id.
func (b *Builder) Add(parent NodeID, n Node) NodeID {
	id := NodeID(len(b.nodes))
	n.Parent = parent
	n.Children = nil
	b.nodes = append(b.nodes, n)
	if parent != NoNode && int(parent) < len(b.nodes) {
		b.nodes[parent].Children = append(b.nodes[parent].Children, id)
	}
	return id
}

// Leaf is a shorthand for adding a node that carries literal text.
func (b *Builder) Leaf(parent NodeID, kind, field, text string, line int) NodeID {
	return b.Add(parent, Node{Kind: kind, Field: field, Text: text, Line: line, Column: 1})
}

// Inner is a shorthand for adding a node that will get children.
func (b *Builder) Inner(parent NodeID, kind, field string, line int) NodeID {
	return b.Add(parent, Node{Kind: kind, Field: field, Line: line, Column: 1})
}

// Build freezes the builder into a Graph. The builder must not be used afterwards.
func (b *Builder) Build() *Graph {
	g := &Graph{nodes: b.nodes, source: b.source}
	b.nodes = nil
	return g
}
