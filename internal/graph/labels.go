package graph

import (
	"errors"
	"sort"
	"sync"
)

// ErrLabelsSealed is returned when a label is written after the marking pass completed.
var ErrLabelsSealed = errors.New("danger labels are sealed")

// SinkSignature describes which inputs of a sink node are dangerous to feed.
// A nil Args slice means every input is consumed.
type SinkSignature struct {
	Args []int
}

// Consumes reports whether the input at index i is consumed by the sink.
func (s SinkSignature) Consumes(i int) bool {
	if s.Args == nil {
		return true
	}
	for _, a := range s.Args {
		if a == i {
			return true
		}
	}
	return false
}

// Labels is the danger-label side table of one graph. It is written once by the
// marker and read-only after Seal.
type Labels struct {
	mu      sync.RWMutex
	sealed  bool
	sources map[NodeID]map[string]struct{}
	sinks   map[NodeID]map[string]SinkSignature
}

// NewLabels returns an empty, writable label table.
func NewLabels() *Labels {
	return &Labels{
		sources: make(map[NodeID]map[string]struct{}),
		sinks:   make(map[NodeID]map[string]SinkSignature),
	}
}

// AddSource labels id as a source for rule. Repeated labels collapse.
func (l *Labels) AddSource(id NodeID, rule string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return ErrLabelsSealed
	}
	set, ok := l.sources[id]
	if !ok {
		set = make(map[string]struct{})
		l.sources[id] = set
	}
	set[rule] = struct{}{}
	return nil
}

// AddSink labels id as a sink for rule. Signatures for the same node and rule merge.
func (l *Labels) AddSink(id NodeID, rule string, sig SinkSignature) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return ErrLabelsSealed
	}
	byRule, ok := l.sinks[id]
	if !ok {
		byRule = make(map[string]SinkSignature)
		l.sinks[id] = byRule
	}
	if prev, exists := byRule[rule]; exists {
		sig = mergeSignatures(prev, sig)
	}
	byRule[rule] = sig
	return nil
}

// Seal freezes the table.
func (l *Labels) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Sealed reports whether the marking pass has completed.
func (l *Labels) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// IsSource reports whether id is a source for rule.
func (l *Labels) IsSource(id NodeID, rule string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sources[id][rule]
	return ok
}

// Sink returns the sink signature of id for rule.
func (l *Labels) Sink(id NodeID, rule string) (SinkSignature, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sig, ok := l.sinks[id][rule]
	return sig, ok
}

// Sinks returns the ids labelled as sinks for rule in ascending order.
func (l *Labels) Sinks(rule string) []NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []NodeID
	for id, byRule := range l.sinks {
		if _, ok := byRule[rule]; ok {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// Sources returns the ids labelled as sources for rule in ascending order.
func (l *Labels) Sources(rule string) []NodeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []NodeID
	for id, set := range l.sources {
		if _, ok := set[rule]; ok {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// RulesAt returns the sorted rule ids labelling id as a source or sink.
func (l *Labels) RulesAt(id NodeID) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := make(map[string]struct{})
	for r := range l.sources[id] {
		set[r] = struct{}{}
	}
	for r := range l.sinks[id] {
		set[r] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func mergeSignatures(a, b SinkSignature) SinkSignature {
	if a.Args == nil || b.Args == nil {
		return SinkSignature{}
	}
	seen := make(map[int]bool)
	var args []int
	for _, i := range append(append([]int{}, a.Args...), b.Args...) {
		if !seen[i] {
			seen[i] = true
			args = append(args, i)
		}
	}
	sort.Ints(args)
	return SinkSignature{Args: args}
}

func sortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
