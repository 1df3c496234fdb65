package rules

import (
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// MatchMethod reports whether a call matches pattern. A bare pattern matches
// the method name; a dotted pattern matches the call expression exactly or as
// a dotted suffix, so "os.system" matches "os.system" and "lib.os.system".
func MatchMethod(pattern, expression, method string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, ".") {
		return pattern == method
	}
	return matchDotted(pattern, expression)
}

// MatchType reports whether a declared or instantiated type matches pattern,
// ignoring generic arguments. Dotted patterns compare qualified names.
func MatchType(pattern, typeName string) bool {
	if pattern == "" || typeName == "" {
		return false
	}
	if strings.Contains(pattern, ".") {
		return matchDotted(pattern, stripGenerics(typeName))
	}
	return graph.BaseTypeName(typeName) == pattern
}

// MatchMember reports whether a member access expression matches pattern.
func MatchMember(pattern, expression string) bool {
	if pattern == "" {
		return false
	}
	return matchDotted(pattern, expression)
}

func matchDotted(pattern, expression string) bool {
	return expression == pattern || strings.HasSuffix(expression, "."+pattern)
}

func stripGenerics(t string) string {
	if i := strings.IndexAny(t, "<["); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return strings.TrimSpace(t)
}
