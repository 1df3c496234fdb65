// Package graph holds the arena-indexed syntax graph every analysis pass reads.
// A Graph is built once by a frontend and is read-only afterwards.
package graph

import (
	"sort"
	"strings"
)

// NodeID indexes a node inside its Graph's arena.
type NodeID int32

// NoNode marks an absent node reference.
const NoNode NodeID = -1

// Language tags the source language of a graph.
type Language string

const (
	Java       Language = "java"
	Python     Language = "python"
	JavaScript Language = "javascript"
)

// Languages lists every supported language in a stable order.
func Languages() []Language {
	return []Language{Java, JavaScript, Python}
}

// Node is a single concrete-syntax node.
type Node struct {
	Kind string
	// Field is the label this node carries under its parent, if any.
	Field string
	// Text holds the literal text of leaves.
	Text     string
	Parent   NodeID
	Children []NodeID
	// StartByte and EndByte delimit the node in the source, when the source is known.
	StartByte uint32
	EndByte   uint32
	// Line and Column are 1-based.
	Line   int
	Column int
}

// Graph is an immutable arena of nodes rooted at node 0.
type Graph struct {
	nodes  []Node
	source []byte
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int { return len(g.nodes) }

// Root returns the root node, or NoNode for an empty graph.
func (g *Graph) Root() NodeID {
	if len(g.nodes) == 0 {
		return NoNode
	}
	return 0
}

// Valid reports whether id refers to a node of this graph.
func (g *Graph) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

// Node returns the node for id. The returned pointer must not be modified.
func (g *Graph) Node(id NodeID) *Node {
	if !g.Valid(id) {
		return nil
	}
	return &g.nodes[id]
}

// Kind returns the node kind, or "" for invalid ids.
func (g *Graph) Kind(id NodeID) string {
	if n := g.Node(id); n != nil {
		return n.Kind
	}
	return ""
}

// Source returns the source the graph was parsed from, if it was retained.
func (g *Graph) Source() []byte { return g.source }

// Parent returns the parent of id, or NoNode for the root.
func (g *Graph) Parent(id NodeID) NodeID {
	if n := g.Node(id); n != nil {
		return n.Parent
	}
	return NoNode
}

// Children returns the ordered children of id.
func (g *Graph) Children(id NodeID) []NodeID {
	if n := g.Node(id); n != nil {
		return n.Children
	}
	return nil
}

// ChildByField returns the first child labelled with field.
func (g *Graph) ChildByField(id NodeID, field string) NodeID {
	for _, c := range g.Children(id) {
		if g.nodes[c].Field == field {
			return c
		}
	}
	return NoNode
}

// ChildrenByField returns every child labelled with field, in order.
func (g *Graph) ChildrenByField(id NodeID, field string) []NodeID {
	var out []NodeID
	for _, c := range g.Children(id) {
		if g.nodes[c].Field == field {
			out = append(out, c)
		}
	}
	return out
}

// ChildrenOfKind returns the children of id whose kind is one of kinds.
func (g *Graph) ChildrenOfKind(id NodeID, kinds ...string) []NodeID {
	var out []NodeID
	for _, c := range g.Children(id) {
		if containsKind(kinds, g.nodes[c].Kind) {
			out = append(out, c)
		}
	}
	return out
}

// FirstChildOfKind returns the first child of id whose kind is one of kinds.
func (g *Graph) FirstChildOfKind(id NodeID, kinds ...string) NodeID {
	for _, c := range g.Children(id) {
		if containsKind(kinds, g.nodes[c].Kind) {
			return c
		}
	}
	return NoNode
}

// Match destructures the children of id against an expected ordered set of kinds.
// The result is aligned with kinds: each slot holds the first not yet consumed
// child of that kind, or NoNode. ok is true when every slot was filled.
func (g *Graph) Match(id NodeID, kinds ...string) (matched []NodeID, ok bool) {
	matched = make([]NodeID, len(kinds))
	used := make(map[NodeID]bool, len(kinds))
	ok = true
	for i, kind := range kinds {
		matched[i] = NoNode
		for _, c := range g.Children(id) {
			if !used[c] && g.nodes[c].Kind == kind {
				matched[i] = c
				used[c] = true
				break
			}
		}
		if matched[i] == NoNode {
			ok = false
		}
	}
	return matched, ok
}

// Content returns the source text covered by id. Graphs built without source
// fall back to joining the leaf texts below id.
func (g *Graph) Content(id NodeID) string {
	n := g.Node(id)
	if n == nil {
		return ""
	}
	if len(g.source) > 0 && n.EndByte > n.StartByte && int(n.EndByte) <= len(g.source) {
		return string(g.source[n.StartByte:n.EndByte])
	}
	if len(n.Children) == 0 {
		return n.Text
	}
	var sb strings.Builder
	for _, c := range n.Children {
		sb.WriteString(g.Content(c))
	}
	return sb.String()
}

// Walk visits id and its descendants in pre-order. Returning false from fn
// skips the subtree of the visited node.
func (g *Graph) Walk(id NodeID, fn func(NodeID) bool) {
	if !g.Valid(id) {
		return
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		children := g.nodes[cur].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// PostOrder returns every node reachable from the root, children before parents.
func (g *Graph) PostOrder() []NodeID {
	if len(g.nodes) == 0 {
		return nil
	}
	out := make([]NodeID, 0, len(g.nodes))
	type item struct {
		id   NodeID
		seen bool
	}
	stack := []item{{id: 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.seen {
			out = append(out, top.id)
			continue
		}
		stack = append(stack, item{id: top.id, seen: true})
		children := g.nodes[top.id].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{id: children[i]})
		}
	}
	return out
}

// Ancestor returns the closest strict ancestor of id whose kind is one of kinds.
func (g *Graph) Ancestor(id NodeID, kinds ...string) NodeID {
	for cur := g.Parent(id); cur != NoNode; cur = g.Parent(cur) {
		if containsKind(kinds, g.nodes[cur].Kind) {
			return cur
		}
	}
	return NoNode
}

// Descendants returns every strict descendant of id whose kind is one of kinds,
// in pre-order.
func (g *Graph) Descendants(id NodeID, kinds ...string) []NodeID {
	var out []NodeID
	g.Walk(id, func(n NodeID) bool {
		if n != id && containsKind(kinds, g.nodes[n].Kind) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Kinds returns the sorted set of kinds present in the graph.
func (g *Graph) Kinds() []string {
	set := make(map[string]struct{})
	for i := range g.nodes {
		set[g.nodes[i].Kind] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsKind(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
