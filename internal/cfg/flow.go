// Package cfg links lowered function bodies into control-flow order.
package cfg

import (
	"sort"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// Edge is one executes-next edge. Dead edges keep unreachable code connected
// but are never followed by path enumeration.
type Edge struct {
	To   graph.NodeID
	Dead bool
}

// Function is one linked function body.
type Function struct {
	Name string
	Root graph.NodeID
	// Exit is a synthetic sentinel id past the end of the graph arena.
	Exit graph.NodeID
	// Nodes lists the linked nodes in link order, root first.
	Nodes []graph.NodeID
}

// FlowGraph holds the linked functions of one graph.
type FlowGraph struct {
	succ      map[graph.NodeID][]Edge
	pred      map[graph.NodeID][]Edge
	functions []*Function
	byRoot    map[graph.NodeID]*Function
	owner     map[graph.NodeID]*Function
	nextExit  graph.NodeID
}

func newFlowGraph(g *graph.Graph) *FlowGraph {
	return &FlowGraph{
		succ:     make(map[graph.NodeID][]Edge),
		pred:     make(map[graph.NodeID][]Edge),
		byRoot:   make(map[graph.NodeID]*Function),
		owner:    make(map[graph.NodeID]*Function),
		nextExit: graph.NodeID(g.Len()),
	}
}

// Successors returns the outgoing edges of id in insertion order.
func (f *FlowGraph) Successors(id graph.NodeID) []Edge { return f.succ[id] }

// Predecessors returns the incoming edges of id; Edge.To names the source node.
func (f *FlowGraph) Predecessors(id graph.NodeID) []Edge { return f.pred[id] }

// LivePredecessors returns the sources of the non-dead incoming edges of id.
func (f *FlowGraph) LivePredecessors(id graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, e := range f.pred[id] {
		if !e.Dead {
			out = append(out, e.To)
		}
	}
	return out
}

// Functions returns the linked functions ordered by root id.
func (f *FlowGraph) Functions() []*Function { return f.functions }

// FunctionAt returns the function rooted at id.
func (f *FlowGraph) FunctionAt(root graph.NodeID) (*Function, bool) {
	fn, ok := f.byRoot[root]
	return fn, ok
}

// Owner returns the function id was linked into.
func (f *FlowGraph) Owner(id graph.NodeID) (*Function, bool) {
	fn, ok := f.owner[id]
	return fn, ok
}

// IsExit reports whether id is a synthetic exit sentinel.
func (f *FlowGraph) IsExit(id graph.NodeID) bool {
	fn, ok := f.owner[id]
	return ok && fn.Exit == id
}

// EnclosingStatement returns the closest linked ancestor-or-self of id.
func (f *FlowGraph) EnclosingStatement(g *graph.Graph, id graph.NodeID) (graph.NodeID, *Function, bool) {
	for cur := id; cur != graph.NoNode; cur = g.Parent(cur) {
		if fn, ok := f.owner[cur]; ok {
			return cur, fn, true
		}
	}
	return graph.NoNode, nil, false
}

// HasEdge reports whether a live edge from -> to exists.
func (f *FlowGraph) HasEdge(from, to graph.NodeID) bool {
	for _, e := range f.succ[from] {
		if e.To == to && !e.Dead {
			return true
		}
	}
	return false
}

func (f *FlowGraph) addEdge(from, to graph.NodeID, dead bool) {
	if from == to && !dead {
		return
	}
	for i, e := range f.succ[from] {
		if e.To == to {
			if e.Dead && !dead {
				f.succ[from][i].Dead = false
				for j, p := range f.pred[to] {
					if p.To == from {
						f.pred[to][j].Dead = false
					}
				}
			}
			return
		}
	}
	f.succ[from] = append(f.succ[from], Edge{To: to, Dead: dead})
	f.pred[to] = append(f.pred[to], Edge{To: from, Dead: dead})
}

func (f *FlowGraph) addFunction(name string, root graph.NodeID) *Function {
	fn := &Function{Name: name, Root: root, Exit: f.nextExit}
	f.nextExit++
	f.functions = append(f.functions, fn)
	f.byRoot[root] = fn
	f.owner[fn.Exit] = fn
	return fn
}

func (f *FlowGraph) sortFunctions() {
	sort.Slice(f.functions, func(i, j int) bool { return f.functions[i].Root < f.functions[j].Root })
}
