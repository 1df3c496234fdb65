// Package marker labels the source and sink nodes of a prepared shard for
// every rule of the catalog.
package marker

import (
	"fmt"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// Mark runs the one-shot labeling pass over s and seals its label table.
// The shard must already be lowered and have its metadata extracted.
func Mark(s *shard.Shard, catalog *rules.Catalog) error {
	if s.Steps == nil {
		return fmt.Errorf("shard %s has not been lowered", s.Path)
	}
	if s.Labels.Sealed() {
		return fmt.Errorf("shard %s: %w", s.Path, graph.ErrLabelsSealed)
	}
	m := &marker{shard: s}
	for i := range catalog.Rules {
		rule := &catalog.Rules[i]
		profile, ok := rule.Profile(s.Language)
		if !ok {
			continue
		}
		m.rule, m.profile = rule.ID, profile
		var err error
		s.Steps.Each(func(st syntax.Step) {
			if err == nil {
				err = m.visit(st)
			}
		})
		if err != nil {
			return err
		}
	}
	s.Labels.Seal()
	return nil
}

type marker struct {
	shard   *shard.Shard
	rule    string
	profile rules.Profile
}

func (m *marker) visit(st syntax.Step) error {
	switch st := st.(type) {
	case *syntax.Declaration:
		if m.matchesSourceType(st.Type) {
			return m.source(st.ID)
		}
	case *syntax.MethodInvocation:
		return m.call(st.ID, m.shard.Meta.Resolve(st.Expression), st.Method)
	case *syntax.MethodInvocationChain:
		return m.call(st.ID, CallExpression(m.shard.Steps, st.ID), st.Method)
	case *syntax.ObjectInstantiation:
		typ := m.shard.Meta.Resolve(st.TypeName)
		for _, p := range m.profile.Sources.Instantiations {
			if rules.MatchType(p, typ) {
				if err := m.source(st.ID); err != nil {
					return err
				}
				break
			}
		}
		for _, sink := range m.profile.Sinks {
			if sink.Instantiation != "" && rules.MatchType(sink.Instantiation, typ) {
				if err := m.sink(st.ID, sink.Args); err != nil {
					return err
				}
			}
		}
	case *syntax.MemberAccess:
		expr := m.shard.Meta.Resolve(st.Expression)
		for _, p := range m.profile.Sources.Members {
			if rules.MatchMember(p, expr) || rules.MatchMember(p, st.Expression) {
				return m.source(st.ID)
			}
		}
	case *syntax.Assignment:
		member := st.Member
		if member == "" {
			member = graph.LastSegment(st.Target)
		}
		for _, sink := range m.profile.Sinks {
			if sink.Assignment != "" && (sink.Assignment == member || rules.MatchMember(sink.Assignment, st.Target)) {
				return m.sink(st.ID, nil)
			}
		}
	}
	return nil
}

func (m *marker) call(id graph.NodeID, expr, method string) error {
	for _, p := range m.profile.Sources.Methods {
		if rules.MatchMethod(p, expr, method) {
			if err := m.source(id); err != nil {
				return err
			}
			break
		}
	}
	if m.returnsSourceType(id, expr, method) {
		if err := m.source(id); err != nil {
			return err
		}
	}
	for _, sink := range m.profile.Sinks {
		if sink.Method != "" && rules.MatchMethod(sink.Method, expr, method) {
			if err := m.sink(id, sink.Args); err != nil {
				return err
			}
		}
	}
	return nil
}

// returnsSourceType labels calls of local methods whose declared return type
// is itself a source type, such as a getter returning the request object.
func (m *marker) returnsSourceType(id graph.NodeID, expr, method string) bool {
	if len(m.profile.Sources.Types) == 0 || method == "" {
		return false
	}
	if expr != method && expr != "this."+method {
		return false
	}
	class, ok := m.shard.EnclosingClass(id)
	if !ok {
		return false
	}
	for _, overload := range class.Methods[method] {
		if m.matchesSourceType(overload.ReturnType) {
			return true
		}
	}
	return false
}

func (m *marker) matchesSourceType(typ string) bool {
	if typ == "" {
		return false
	}
	resolved := m.shard.Meta.Resolve(typ)
	for _, p := range m.profile.Sources.Types {
		if rules.MatchType(p, typ) || rules.MatchType(p, resolved) {
			return true
		}
	}
	return false
}

func (m *marker) source(id graph.NodeID) error {
	return m.shard.Labels.AddSource(id, m.rule)
}

func (m *marker) sink(id graph.NodeID, args []int) error {
	var sig graph.SinkSignature
	if len(args) > 0 {
		sig.Args = append([]int(nil), args...)
	}
	return m.shard.Labels.AddSink(id, m.rule, sig)
}

// CallExpression renders the dotted callee of a call made on the result of
// another call, such as "response.getWriter.println". Receivers that are not
// names, member reads or calls render as the bare method name.
func CallExpression(steps *syntax.Steps, id graph.NodeID) string {
	switch st := steps.At(id).(type) {
	case *syntax.MethodInvocation:
		return st.Expression
	case *syntax.MethodInvocationChain:
		prefix := receiverExpression(steps, st.Object)
		if prefix == "" {
			return st.Method
		}
		if st.Method == "" {
			return prefix
		}
		return prefix + "." + st.Method
	}
	return ""
}

func receiverExpression(steps *syntax.Steps, id graph.NodeID) string {
	switch st := steps.At(id).(type) {
	case *syntax.SymbolLookup:
		return st.Symbol
	case *syntax.MemberAccess:
		return st.Expression
	case *syntax.MethodInvocation, *syntax.MethodInvocationChain:
		return CallExpression(steps, id)
	case *syntax.NoOp:
		if len(st.Inner) == 1 {
			return receiverExpression(steps, st.Inner[0])
		}
	}
	return ""
}
