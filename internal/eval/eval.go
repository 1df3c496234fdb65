// Package eval symbolically evaluates the flow paths leading to a sink and
// decides whether dangerous data can reach it.
//
// Evaluation is path based: the paths from the enclosing function's root to
// the sink's statement are enumerated backwards over live flow edges, never
// revisiting a node within one path, and each path is then replayed forwards
// with a fresh scope. Loops are therefore traversed at most once. Calls to
// known functions are evaluated on demand and memoized by callee, argument
// danger and receiver field state.
package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/scalpel-sast/internal/cfg"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// ErrBudgetExhausted is returned when an evaluation exceeds its step budget.
var ErrBudgetExhausted = errors.New("evaluation step budget exhausted")

// ErrPathsTruncated reports a sink found clean only over a truncated set of
// paths.
var ErrPathsTruncated = errors.New("path enumeration truncated")

// ErrNotSink is returned when EvaluateSink is called on a node that carries no
// sink label for the evaluator's rule.
var ErrNotSink = errors.New("node is not a sink for the rule")

// ctxCheckInterval is how many steps run between context checks.
const ctxCheckInterval = 256

// Budget bounds the work of one evaluator.
type Budget struct {
	// MaxSteps caps evaluated steps and visited path nodes across every
	// EvaluateSink call of the evaluator.
	MaxSteps int
	// MaxPaths caps the paths enumerated per function.
	MaxPaths int
	// MaxCallDepth caps nested call evaluation.
	MaxCallDepth int
}

// DefaultBudget returns the budget used when none is configured.
func DefaultBudget() Budget {
	return Budget{MaxSteps: 500000, MaxPaths: 64, MaxCallDepth: 8}
}

func (b Budget) normalized() Budget {
	d := DefaultBudget()
	if b.MaxSteps <= 0 {
		b.MaxSteps = d.MaxSteps
	}
	if b.MaxPaths <= 0 {
		b.MaxPaths = d.MaxPaths
	}
	if b.MaxCallDepth <= 0 {
		b.MaxCallDepth = d.MaxCallDepth
	}
	return b
}

// PathResult is the outcome of replaying one path.
type PathResult struct {
	// Nodes lists the path's statements from the function root to the sink's statement.
	Nodes []graph.NodeID
	// Dangerous reports whether the sink consumed dangerous data on this path.
	Dangerous bool
	// Danger holds the evaluated danger of every node visited on the path.
	Danger map[graph.NodeID]bool
}

// Result is the outcome of evaluating one sink.
type Result struct {
	Dangerous bool
	Paths     []PathResult
	// Truncated is set when path enumeration for the sink's function, or for
	// a callee evaluated on its behalf, found more than MaxPaths paths. A
	// truncated result that is not dangerous is inconclusive.
	Truncated bool
}

// Evaluator evaluates the sinks of one rule. It is not safe for concurrent
// use; the engine creates one per rule and shard.
type Evaluator struct {
	db      *shard.DB
	catalog *rules.Catalog
	rule    *rules.Rule
	budget  Budget

	ctx    context.Context
	steps  int
	err    error
	memo   map[memoKey]calleeResult
	active map[memoKey]bool
	// truncated records a callee whose paths were cut at MaxPaths during
	// the current sink.
	truncated bool
}

type memoKey struct {
	path     string
	root     graph.NodeID
	args     string
	instance string
}

type calleeResult struct {
	ret       Cell
	fields    map[string]Cell
	truncated bool
}

// New returns an evaluator for rule over the shards of db.
func New(db *shard.DB, catalog *rules.Catalog, rule *rules.Rule, budget Budget) *Evaluator {
	return &Evaluator{
		db:      db,
		catalog: catalog,
		rule:    rule,
		budget:  budget.normalized(),
		ctx:     context.Background(),
		memo:    make(map[memoKey]calleeResult),
		active:  make(map[memoKey]bool),
	}
}

// Budget returns the normalized budget the evaluator runs under.
func (e *Evaluator) Budget() Budget { return e.budget }

// Steps returns the number of steps consumed so far.
func (e *Evaluator) Steps() int { return e.steps }

// EvaluateSink decides whether dangerous data reaches the sink at node.
func (e *Evaluator) EvaluateSink(ctx context.Context, s *shard.Shard, node graph.NodeID) (Result, error) {
	sig, ok := s.Labels.Sink(node, e.rule.ID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s node %d rule %s", ErrNotSink, s.Path, node, e.rule.ID)
	}
	e.ctx = ctx
	e.truncated = false
	defer func() { e.ctx = context.Background() }()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	stmt, fn, ok := s.Flow.EnclosingStatement(s.Graph, node)
	if !ok {
		// Code outside any linked function, such as a field initializer.
		f := e.newFrame(s, nil, nil, nil, 0)
		e.eval(f, node)
		if e.err != nil {
			return Result{}, e.err
		}
		danger := e.sinkDanger(f, node, sig)
		return Result{
			Dangerous: danger,
			Truncated: e.truncated,
			Paths:     []PathResult{{Nodes: []graph.NodeID{node}, Dangerous: danger, Danger: f.danger}},
		}, nil
	}

	paths, truncated := e.paths(s.Flow, fn, stmt)
	if e.err != nil {
		return Result{}, e.err
	}
	res := Result{Truncated: truncated}
	instance := e.entryInstance(s, fn)
	for _, p := range paths {
		f := e.newFrame(s, fn, instance.clone(), nil, 0)
		for _, id := range p {
			e.exec(f, id)
		}
		if _, seen := f.danger[node]; !seen {
			e.eval(f, node)
		}
		if e.err != nil {
			return Result{}, e.err
		}
		danger := e.sinkDanger(f, node, sig)
		res.Paths = append(res.Paths, PathResult{Nodes: p, Dangerous: danger, Danger: f.danger})
		res.Dangerous = res.Dangerous || danger
	}
	res.Truncated = res.Truncated || e.truncated
	return res, nil
}

// sinkDanger reports whether the sink consumed dangerous data: a consumed
// argument for calls and instantiations, the assigned value for assignments.
func (e *Evaluator) sinkDanger(f *frame, node graph.NodeID, sig graph.SinkSignature) bool {
	var args []graph.NodeID
	switch st := f.shard.Steps.At(node).(type) {
	case *syntax.Assignment:
		return f.danger[st.Value]
	case *syntax.MethodInvocation:
		args = st.Args
	case *syntax.MethodInvocationChain:
		args = st.Args
	case *syntax.ObjectInstantiation:
		args = st.Args
	default:
		return f.danger[node]
	}
	for i, a := range args {
		if sig.Consumes(i) && f.danger[a] {
			return true
		}
	}
	return false
}

// paths enumerates the acyclic live paths from fn's root to target, root first.
func (e *Evaluator) paths(flow *cfg.FlowGraph, fn *cfg.Function, target graph.NodeID) ([][]graph.NodeID, bool) {
	var (
		out       [][]graph.NodeID
		truncated bool
		stack     []graph.NodeID
	)
	onPath := make(map[graph.NodeID]bool)
	var walk func(id graph.NodeID)
	walk = func(id graph.NodeID) {
		if truncated || !e.tick() {
			return
		}
		if id == fn.Root {
			p := make([]graph.NodeID, 0, len(stack)+1)
			p = append(p, id)
			for i := len(stack) - 1; i >= 0; i-- {
				p = append(p, stack[i])
			}
			if len(out) == e.budget.MaxPaths {
				truncated = true
				return
			}
			out = append(out, p)
			return
		}
		onPath[id] = true
		stack = append(stack, id)
		for _, pred := range flow.LivePredecessors(id) {
			if !onPath[pred] {
				walk(pred)
			}
		}
		stack = stack[:len(stack)-1]
		delete(onPath, id)
	}
	walk(target)
	return out, truncated
}

// tick charges one step and reports whether evaluation may continue.
func (e *Evaluator) tick() bool {
	if e.err != nil {
		return false
	}
	e.steps++
	if e.steps > e.budget.MaxSteps {
		e.err = fmt.Errorf("%w: %d steps", ErrBudgetExhausted, e.budget.MaxSteps)
		return false
	}
	if e.steps%ctxCheckInterval == 0 {
		if err := e.ctx.Err(); err != nil {
			e.err = err
			return false
		}
	}
	return true
}

// entryInstance models the receiver of a method evaluated without a caller.
func (e *Evaluator) entryInstance(s *shard.Shard, fn *cfg.Function) *Instance {
	class, ok := s.EnclosingClass(fn.Root)
	if !ok {
		return nil
	}
	return newInstance(shard.ClassRef{Shard: s, Class: class})
}

func (in *Instance) clone() *Instance {
	if in == nil {
		return nil
	}
	return &Instance{Class: in.Class, Shard: in.Shard, Fields: in.snapshot()}
}

// binding is the state of one variable in scope.
type binding struct {
	Cell
	typ string
}

// frame is the state of one path replay inside one function.
type frame struct {
	shard    *shard.Shard
	fn       *cfg.Function
	scope    map[string]*binding
	danger   map[graph.NodeID]bool
	instance *Instance
	// args are the call-site arguments, nil for entry evaluation.
	args  []Cell
	depth int

	ret      Cell
	returned bool
}

func (e *Evaluator) newFrame(s *shard.Shard, fn *cfg.Function, instance *Instance, args []Cell, depth int) *frame {
	return &frame{
		shard:    s,
		fn:       fn,
		scope:    make(map[string]*binding),
		danger:   make(map[graph.NodeID]bool),
		instance: instance,
		args:     args,
		depth:    depth,
	}
}

func (f *frame) bind(name string, c Cell, typ string) {
	if name == "" {
		return
	}
	if prev, ok := f.scope[name]; ok {
		c.Danger = c.Danger || prev.Danger
		if typ == "" {
			typ = prev.typ
		}
	}
	f.scope[name] = &binding{Cell: c, typ: typ}
}

func (f *frame) lookup(name string) (*binding, bool) {
	b, ok := f.scope[name]
	return b, ok
}
