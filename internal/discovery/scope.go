package discovery

import (
	"path"
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
)

// unsupportedSources are source languages that are recognised but not
// analyzed. They are listed so the report shows them as coverage gaps.
var unsupportedSources = map[string]struct{}{
	".ts": {}, ".tsx": {}, ".go": {}, ".rb": {}, ".php": {}, ".cs": {},
	".kt": {}, ".scala": {}, ".c": {}, ".cc": {}, ".cpp": {}, ".rs": {}, ".swift": {},
}

// Scope defines which files of a tree take part in a scan.
type Scope struct {
	excludes []string
}

// NewScope builds a scope from exclude globs. A glob is matched against
// every path element and against the whole slash separated relative path,
// so "vendor" excludes any vendor directory and "gen/*.py" one file set.
func NewScope(excludes []string) *Scope {
	clean := make([]string, 0, len(excludes))
	for _, e := range excludes {
		if e = strings.TrimSpace(e); e != "" {
			clean = append(clean, strings.TrimSuffix(e, "/"))
		}
	}
	return &Scope{excludes: clean}
}

// IsExcluded reports whether rel, a slash separated path relative to the
// scan root, matches an exclude glob.
func (s *Scope) IsExcluded(rel string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for _, elem := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pattern, elem); ok {
				return true
			}
		}
	}
	return false
}

// Classify reports whether rel is in scope and whether its language is
// analyzed. Files that are neither analyzed nor a known source language are
// out of scope.
func (s *Scope) Classify(rel string) (inScope, supported bool) {
	if s.IsExcluded(rel) {
		return false, false
	}
	if _, ok := frontend.DetectLanguage(rel); ok {
		return true, true
	}
	if _, ok := unsupportedSources[strings.ToLower(path.Ext(rel))]; ok {
		return true, false
	}
	return false, false
}
