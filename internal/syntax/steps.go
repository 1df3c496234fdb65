// Package syntax lowers syntax graph nodes into SyntaxSteps, the normalized
// representation the control-flow walkers and the evaluator operate on.
package syntax

import "github.com/xkilldash9x/scalpel-sast/internal/graph"

// Step is the sum type of lowered constructs. Exactly one Step exists per node.
type Step interface {
	// Node returns the graph node the step was lowered from.
	Node() graph.NodeID
	// Deps returns the nodes whose steps must be evaluated before this one.
	Deps() []graph.NodeID
	isStep()
}

// Meta is embedded by every step variant.
type Meta struct {
	ID graph.NodeID
}

func (m Meta) Node() graph.NodeID { return m.ID }
func (Meta) isStep()              {}

// Declaration introduces a variable, parameter or catch binding.
type Declaration struct {
	Meta
	Var  string
	Type string
	// Value is the initializer, or NoNode.
	Value graph.NodeID
	// Iterates is set for loop variables bound to the elements of Value.
	Iterates bool
	// Param is set for formal parameters; Index is their position.
	Param bool
	Index int
}

func (s *Declaration) Deps() []graph.NodeID {
	if s.Param {
		return nil
	}
	return optional(s.Value)
}

// Assignment writes Value into a target.
type Assignment struct {
	Meta
	// Target is the textual left-hand side.
	Target string
	// Names is set when the left-hand side destructures into several variables.
	Names []string
	// Object and Member describe `obj.member = v` targets.
	Object graph.NodeID
	Member string
	// Key is the index node of `obj[key] = v` targets.
	Key      graph.NodeID
	Value    graph.NodeID
	Operator string
}

func (s *Assignment) Deps() []graph.NodeID {
	deps := optional(s.Object)
	deps = append(deps, optional(s.Key)...)
	return append(deps, optional(s.Value)...)
}

// SymbolLookup reads a variable by name.
type SymbolLookup struct {
	Meta
	Symbol string
}

func (s *SymbolLookup) Deps() []graph.NodeID { return nil }

// Literal is a constant.
type Literal struct {
	Meta
	Type  string
	Value string
}

func (s *Literal) Deps() []graph.NodeID { return nil }

// MethodInvocation is a call whose target is a plain dotted name.
type MethodInvocation struct {
	Meta
	// Expression is the dotted callee text, unresolved.
	Expression string
	Method     string
	// Object is the receiver node, or NoNode for bare calls.
	Object graph.NodeID
	Args   []graph.NodeID
}

func (s *MethodInvocation) Deps() []graph.NodeID {
	return append(optional(s.Object), s.Args...)
}

// MethodInvocationChain is a call on the result of a complex expression.
type MethodInvocationChain struct {
	Meta
	Method string
	Object graph.NodeID
	Args   []graph.NodeID
}

func (s *MethodInvocationChain) Deps() []graph.NodeID {
	return append(optional(s.Object), s.Args...)
}

// Entry is one key/value pair of a mapping literal.
type Entry struct {
	Key     string
	KeyNode graph.NodeID
	Value   graph.NodeID
}

// ObjectInstantiation creates an object, or a mapping for literal dictionaries.
type ObjectInstantiation struct {
	Meta
	TypeName string
	Args     []graph.NodeID
	Entries  []Entry
}

func (s *ObjectInstantiation) Deps() []graph.NodeID {
	deps := append([]graph.NodeID{}, s.Args...)
	for _, e := range s.Entries {
		deps = append(deps, optional(e.KeyNode)...)
		deps = append(deps, optional(e.Value)...)
	}
	return deps
}

// ArrayInstantiation creates an ordered sequence.
type ArrayInstantiation struct {
	Meta
	Elements []graph.NodeID
}

func (s *ArrayInstantiation) Deps() []graph.NodeID { return s.Elements }

// Return leaves the enclosing function, optionally with a value. Throw
// statements lower to a Return marked Throw.
type Return struct {
	Meta
	Value graph.NodeID
	Throw bool
}

func (s *Return) Deps() []graph.NodeID { return optional(s.Value) }

// NoOp has no effect of its own. Transparent wrappers list their inner nodes.
type NoOp struct {
	Meta
	Inner []graph.NodeID
}

func (s *NoOp) Deps() []graph.NodeID { return s.Inner }

// MethodDeclaration is the root of a function body.
type MethodDeclaration struct {
	Meta
	Name   string
	Params []graph.NodeID
}

func (s *MethodDeclaration) Deps() []graph.NodeID { return nil }

// Operation combines operands: arithmetic, concatenation, comparison, casts.
type Operation struct {
	Meta
	Operator string
	Operands []graph.NodeID
}

func (s *Operation) Deps() []graph.NodeID { return s.Operands }

// MemberAccess reads a member of an object.
type MemberAccess struct {
	Meta
	Expression string
	Object     graph.NodeID
	Member     string
}

func (s *MemberAccess) Deps() []graph.NodeID { return optional(s.Object) }

// ElementAccess reads an element by index or key.
type ElementAccess struct {
	Meta
	Object graph.NodeID
	Index  graph.NodeID
}

func (s *ElementAccess) Deps() []graph.NodeID {
	return append(optional(s.Object), optional(s.Index)...)
}

// Condition guards a branch or loop.
type Condition struct {
	Meta
	Condition graph.NodeID
}

func (s *Condition) Deps() []graph.NodeID { return optional(s.Condition) }

func optional(id graph.NodeID) []graph.NodeID {
	if id == graph.NoNode {
		return nil
	}
	return []graph.NodeID{id}
}

// Steps is the lowered form of one graph, indexed by node id.
type Steps struct {
	byNode []Step
}

// At returns the step lowered from id. Unknown ids yield a NoOp.
func (s *Steps) At(id graph.NodeID) Step {
	if s == nil || id < 0 || int(id) >= len(s.byNode) || s.byNode[id] == nil {
		return &NoOp{Meta: Meta{ID: id}}
	}
	return s.byNode[id]
}

// Len returns the number of lowered nodes.
func (s *Steps) Len() int { return len(s.byNode) }

// Each calls fn for every step in node order.
func (s *Steps) Each(fn func(Step)) {
	for _, st := range s.byNode {
		if st != nil {
			fn(st)
		}
	}
}

// VariantName returns a stable name for the step's variant.
func VariantName(st Step) string {
	switch st.(type) {
	case *Declaration:
		return "Declaration"
	case *Assignment:
		return "Assignment"
	case *SymbolLookup:
		return "SymbolLookup"
	case *Literal:
		return "Literal"
	case *MethodInvocation:
		return "MethodInvocation"
	case *MethodInvocationChain:
		return "MethodInvocationChain"
	case *ObjectInstantiation:
		return "ObjectInstantiation"
	case *ArrayInstantiation:
		return "ArrayInstantiation"
	case *Return:
		return "Return"
	case *MethodDeclaration:
		return "MethodDeclaration"
	case *Operation:
		return "Operation"
	case *MemberAccess:
		return "MemberAccess"
	case *ElementAccess:
		return "ElementAccess"
	case *Condition:
		return "Condition"
	default:
		return "NoOp"
	}
}
