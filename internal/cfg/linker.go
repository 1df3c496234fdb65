package cfg

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// ErrOverlappingDispatch is returned when two walkers claim the same node kind.
var ErrOverlappingDispatch = errors.New("overlapping walker claims")

// LinkFunc links the node id to its successors, which are the nodes that run
// after id completes normally.
type LinkFunc func(l *Linker, id graph.NodeID, next []graph.NodeID)

// Dispatcher claims a set of statement kinds.
type Dispatcher struct {
	Name  string
	Kinds []string
	Link  LinkFunc
}

// Roots describes the node kinds that start a function body.
type Roots struct {
	Kinds []string
	// Body returns the ordered statements of a function body.
	Body func(g *graph.Graph, id graph.NodeID) []graph.NodeID
	// Name returns a display name for the function.
	Name func(g *graph.Graph, id graph.NodeID) string
}

// Registry is an immutable kind → link table for one language.
type Registry struct {
	language graph.Language
	roots    Roots
	rootSet  map[string]bool
	table    map[string]LinkFunc
}

// NewRegistry builds a walker registry, rejecting overlapping claims between
// dispatchers and between dispatchers and root kinds.
func NewRegistry(lang graph.Language, roots Roots, dispatchers ...Dispatcher) (*Registry, error) {
	if roots.Body == nil {
		return nil, fmt.Errorf("walker registry for %s has no body extractor", lang)
	}
	reg := &Registry{
		language: lang,
		roots:    roots,
		rootSet:  make(map[string]bool),
		table:    make(map[string]LinkFunc),
	}
	owners := make(map[string]string)
	var conflicts []string
	for _, k := range roots.Kinds {
		reg.rootSet[k] = true
		owners[k] = "roots"
	}
	for _, d := range dispatchers {
		if d.Link == nil {
			return nil, fmt.Errorf("walker %q for %s has no link function", d.Name, lang)
		}
		for _, k := range d.Kinds {
			if owner, taken := owners[k]; taken {
				conflicts = append(conflicts, fmt.Sprintf("%s (%s, %s)", k, owner, d.Name))
				continue
			}
			owners[k] = d.Name
			reg.table[k] = d.Link
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, fmt.Errorf("%w for %s: %s", ErrOverlappingDispatch, lang, strings.Join(conflicts, ", "))
	}
	return reg, nil
}

// Language returns the language the registry links.
func (r *Registry) Language() graph.Language { return r.language }

// IsRoot reports whether kind starts a function.
func (r *Registry) IsRoot(kind string) bool { return r.rootSet[kind] }

// Kinds returns every claimed kind, roots included, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.table)+len(r.rootSet))
	for k := range r.table {
		out = append(out, k)
	}
	for k := range r.rootSet {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build links every function of g.
func Build(g *graph.Graph, reg *Registry, logger *zap.Logger) *FlowGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("cfg")
	flow := newFlowGraph(g)
	g.Walk(g.Root(), func(id graph.NodeID) bool {
		if reg.rootSet[g.Kind(id)] {
			linkFunction(g, reg, flow, id, log)
		}
		return true
	})
	flow.sortFunctions()
	return flow
}

func linkFunction(g *graph.Graph, reg *Registry, flow *FlowGraph, root graph.NodeID, log *zap.Logger) {
	name := g.Kind(root)
	if reg.roots.Name != nil {
		name = reg.roots.Name(g, root)
	}
	fn := flow.addFunction(name, root)
	l := &Linker{g: g, flow: flow, fn: fn, reg: reg, log: log}
	l.Own(root)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Debug("Walker failed, function left partially linked.",
					zap.String("function", name), zap.Any("panic", rec))
			}
		}()
		body := reg.roots.Body(g, root)
		if len(body) == 0 {
			flow.addEdge(root, fn.Exit, false)
			return
		}
		flow.addEdge(root, body[0], false)
		l.Sequence(body, []graph.NodeID{fn.Exit})
	}()
	l.connect()
}

type frame struct {
	breakTo    []graph.NodeID
	continueTo graph.NodeID
}

// Linker carries the state of linking one function.
type Linker struct {
	g      *graph.Graph
	flow   *FlowGraph
	fn     *Function
	reg    *Registry
	log    *zap.Logger
	frames []frame
	owned  map[graph.NodeID]bool
}

// Graph returns the graph being linked.
func (l *Linker) Graph() *graph.Graph { return l.g }

// Function returns the function being linked.
func (l *Linker) Function() *Function { return l.fn }

// Own records id as a node of the function being linked.
func (l *Linker) Own(id graph.NodeID) {
	if l.owned == nil {
		l.owned = make(map[graph.NodeID]bool)
	}
	if l.owned[id] {
		return
	}
	l.owned[id] = true
	l.fn.Nodes = append(l.fn.Nodes, id)
	l.flow.owner[id] = l.fn
}

// Link links id by its kind. Unclaimed kinds and nested function roots are
// simple statements that fall through to next.
func (l *Linker) Link(id graph.NodeID, next []graph.NodeID) {
	if id == graph.NoNode {
		return
	}
	l.Own(id)
	if link, ok := l.reg.table[l.g.Kind(id)]; ok {
		link(l, id, next)
		return
	}
	l.Edges(id, next)
}

// Edge adds a live edge.
func (l *Linker) Edge(from, to graph.NodeID) {
	if from == graph.NoNode || to == graph.NoNode {
		return
	}
	l.flow.addEdge(from, to, false)
}

// Edges adds live edges from one node to several.
func (l *Linker) Edges(from graph.NodeID, to []graph.NodeID) {
	for _, t := range to {
		l.Edge(from, t)
	}
}

// Statements returns the named children of a block-like node.
func (l *Linker) Statements(id graph.NodeID) []graph.NodeID {
	var out []graph.NodeID
	for _, c := range l.g.Children(id) {
		if syntax.IsNamedKind(l.g.Kind(c)) {
			out = append(out, c)
		}
	}
	return out
}

// Sequence links stmts in order, the last one falling through to next.
func (l *Linker) Sequence(stmts []graph.NodeID, next []graph.NodeID) {
	for i, s := range stmts {
		succ := next
		if i+1 < len(stmts) {
			succ = []graph.NodeID{stmts[i+1]}
		}
		l.Link(s, succ)
	}
}

// Block links a block node to its first statement and sequences the rest.
func (l *Linker) Block(id graph.NodeID, next []graph.NodeID) {
	l.BlockOf(id, l.Statements(id), next)
}

// BlockOf links id to the first of stmts and sequences them.
func (l *Linker) BlockOf(id graph.NodeID, stmts []graph.NodeID, next []graph.NodeID) {
	if len(stmts) == 0 {
		l.Edges(id, next)
		return
	}
	l.Edge(id, stmts[0])
	l.Sequence(stmts, next)
}

// Branch links a conditional: id flows into each present branch, and into next
// when there is no alternative.
func (l *Linker) Branch(id graph.NodeID, consequence, alternative graph.NodeID, next []graph.NodeID) {
	if consequence != graph.NoNode {
		l.Edge(id, consequence)
		l.Link(consequence, next)
	} else {
		l.Edges(id, next)
	}
	if alternative != graph.NoNode {
		l.Edge(id, alternative)
		l.Link(alternative, next)
	} else {
		l.Edges(id, next)
	}
}

// Loop links a loop head to its body. The body end flows back to the head and
// out to next, so the body runs zero or more times. init runs before the body
// and update after it, when present.
func (l *Linker) Loop(head, init, body, update graph.NodeID, next []graph.NodeID) {
	l.frames = append(l.frames, frame{breakTo: next, continueTo: head})
	defer func() { l.frames = l.frames[:len(l.frames)-1] }()

	entry := body
	if init != graph.NoNode {
		l.Edge(head, init)
		l.Link(init, nonEmpty(body, head))
	}
	after := append([]graph.NodeID{head}, next...)
	if update != graph.NoNode {
		l.Own(update)
		l.Edges(update, after)
		after = []graph.NodeID{update}
	}
	if entry != graph.NoNode {
		if init == graph.NoNode {
			l.Edge(head, entry)
		}
		l.Link(entry, after)
	}
	l.Edges(head, next)
}

// Try links a try body whose every node may transfer to each handler.
func (l *Linker) Try(id, body graph.NodeID, handlers []graph.NodeID, finally graph.NodeID, next []graph.NodeID) {
	after := next
	if finally != graph.NoNode {
		after = []graph.NodeID{finally}
	}
	start := len(l.fn.Nodes)
	if body != graph.NoNode {
		l.Edge(id, body)
		l.Link(body, after)
	} else {
		l.Edges(id, after)
	}
	throwing := append([]graph.NodeID{id}, l.fn.Nodes[start:]...)
	for _, h := range handlers {
		for _, n := range throwing {
			l.Edge(n, h)
		}
		l.Link(h, after)
	}
	if finally != graph.NoNode {
		l.Link(finally, next)
	}
}

// Case is one branch of a switch or match.
type Case struct {
	Node       graph.NodeID
	Statements []graph.NodeID
	Default    bool
}

// Switch links a discriminant to each case. With fallthrough the end of a case
// flows into the next case; otherwise it leaves the switch.
func (l *Linker) Switch(id graph.NodeID, cases []Case, fallsThrough bool, next []graph.NodeID) {
	l.frames = append(l.frames, frame{breakTo: next, continueTo: graph.NoNode})
	defer func() { l.frames = l.frames[:len(l.frames)-1] }()

	hasDefault := false
	for i, c := range cases {
		hasDefault = hasDefault || c.Default
		l.Own(c.Node)
		l.Edge(id, c.Node)
		caseNext := next
		if fallsThrough && i+1 < len(cases) {
			caseNext = []graph.NodeID{cases[i+1].Node}
		}
		l.BlockOf(c.Node, c.Statements, caseNext)
	}
	if !hasDefault {
		l.Edges(id, next)
	}
}

// Return links a terminal statement to the function exit.
func (l *Linker) Return(id graph.NodeID) {
	l.Edge(id, l.fn.Exit)
}

// Break links id to the exit of the innermost loop or switch.
func (l *Linker) Break(id graph.NodeID) {
	if len(l.frames) == 0 {
		return
	}
	l.Edges(id, l.frames[len(l.frames)-1].breakTo)
}

// Continue links id to the head of the innermost loop.
func (l *Linker) Continue(id graph.NodeID) {
	for i := len(l.frames) - 1; i >= 0; i-- {
		if l.frames[i].continueTo != graph.NoNode {
			l.Edge(id, l.frames[i].continueTo)
			return
		}
	}
}

// connect gives every non-root node without predecessors a dead edge from its
// closest linked ancestor, so unreachable code stays attached to the function.
func (l *Linker) connect() {
	for _, id := range l.fn.Nodes {
		if id == l.fn.Root || len(l.flow.pred[id]) > 0 {
			continue
		}
		from := l.fn.Root
		for cur := l.g.Parent(id); cur != graph.NoNode; cur = l.g.Parent(cur) {
			if l.owned[cur] {
				from = cur
				break
			}
		}
		l.flow.addEdge(from, id, true)
	}
}

func nonEmpty(id, fallback graph.NodeID) []graph.NodeID {
	if id != graph.NoNode {
		return []graph.NodeID{id}
	}
	return []graph.NodeID{fallback}
}
