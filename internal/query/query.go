// Package query turns evaluated sinks into vulnerability records.
package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/eval"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

// maxSnippet caps the length of a reported source line.
const maxSnippet = 240

// Options tune one query.
type Options struct {
	Budget eval.Budget
	// Timeout bounds the evaluation of one shard. Zero means no limit.
	Timeout time.Duration
	// ReadFile loads a file's source when its shard carries none.
	// Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Outcome is the result of running one rule.
type Outcome struct {
	Vulnerabilities []schemas.Vulnerability
	Gaps            []schemas.CoverageGap
	Steps           int64
}

// Run evaluates every sink of ruleID across db and returns the dangerous ones,
// deduplicated and ordered by path then node. Shards whose evaluation runs out
// of budget or time are reported as coverage gaps, keeping whatever findings
// the shard still produced. Cancellation of ctx itself aborts the run.
func Run(ctx context.Context, db *shard.DB, catalog *rules.Catalog, ruleID string, opts Options) (Outcome, error) {
	rule, ok := catalog.Rule(ruleID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", rules.ErrUnknownRule, ruleID)
	}
	var out Outcome
	for _, sh := range db.Shards() {
		if _, ok := rule.Profile(sh.Language); !ok {
			continue
		}
		vulns, steps, err := Shard(ctx, db, catalog, rule, sh, opts)
		out.Steps += int64(steps)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			gap, ok := Gap(sh.Path, rule.ID, err)
			if !ok {
				return out, err
			}
			out.Gaps = append(out.Gaps, gap)
		}
		out.Vulnerabilities = append(out.Vulnerabilities, vulns...)
	}
	out.Vulnerabilities = Dedupe(out.Vulnerabilities)
	return out, nil
}

// Shard evaluates the sinks of rule in one shard and returns the dangerous
// ones in node order, along with the steps spent. A sink found clean over a
// truncated path set does not stop the shard: the remaining sinks are still
// evaluated and the findings come back alongside an error wrapping
// eval.ErrPathsTruncated. On any other error no vulnerability of the shard is
// returned.
func Shard(ctx context.Context, db *shard.DB, catalog *rules.Catalog, rule *rules.Rule, sh *shard.Shard, opts Options) ([]schemas.Vulnerability, int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	ev := eval.New(db, catalog, rule, opts.Budget)
	src := &source{shard: sh, read: opts.ReadFile}

	var (
		out        []schemas.Vulnerability
		incomplete []string
	)
	for _, id := range sh.Labels.Sinks(rule.ID) {
		res, err := ev.EvaluateSink(ctx, sh, id)
		if err != nil {
			return nil, ev.Steps(), fmt.Errorf("evaluating %s node %d for %s: %w", sh.Path, id, rule.ID, err)
		}
		switch {
		case res.Dangerous:
			out = append(out, newVulnerability(sh, id, rule, src))
		case res.Truncated:
			line, _ := sh.Position(id)
			incomplete = append(incomplete, fmt.Sprintf("node %d line %d", id, line))
		}
	}
	if len(incomplete) > 0 {
		return out, ev.Steps(), fmt.Errorf("evaluating %s for %s: %w beyond %d paths at %s",
			sh.Path, rule.ID, eval.ErrPathsTruncated, ev.Budget().MaxPaths, strings.Join(incomplete, ", "))
	}
	return out, ev.Steps(), nil
}

// Gap classifies an evaluation error as a coverage gap. Errors that are not a
// budget or deadline cutoff are not gaps.
func Gap(path, ruleID string, err error) (schemas.CoverageGap, bool) {
	gap := schemas.CoverageGap{Path: path, RuleID: ruleID, Detail: err.Error()}
	switch {
	case errors.Is(err, eval.ErrBudgetExhausted):
		gap.Reason = schemas.GapStepBudget
	case errors.Is(err, eval.ErrPathsTruncated):
		gap.Reason = schemas.GapPathBudget
	case errors.Is(err, context.DeadlineExceeded):
		gap.Reason = schemas.GapTimeout
	default:
		return schemas.CoverageGap{}, false
	}
	return gap, true
}

// Dedupe drops repeated (rule, path, node) records and sorts the rest by path,
// node and rule.
func Dedupe(vulns []schemas.Vulnerability) []schemas.Vulnerability {
	type key struct {
		rule, path string
		node       int
	}
	seen := make(map[key]bool, len(vulns))
	out := vulns[:0]
	for _, v := range vulns {
		k := key{v.RuleID, v.Path, v.NodeID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	r := schemas.Report{Vulnerabilities: out}
	r.Sort()
	return r.Vulnerabilities
}

func newVulnerability(sh *shard.Shard, id graph.NodeID, rule *rules.Rule, src *source) schemas.Vulnerability {
	line, col := sh.Position(id)
	kind := rule.Kind
	if kind == "" {
		kind = rules.KindLines
	}
	desc := rule.Description
	if desc == "" {
		desc = rule.Title
	}
	return schemas.Vulnerability{
		RuleID:      rule.ID,
		Kind:        kind,
		Path:        sh.Path,
		Line:        line,
		Column:      col,
		NodeID:      int(id),
		CWE:         append([]string(nil), rule.CWE...),
		Description: desc,
		Snippet:     lineAt(src.bytes(), line),
	}
}

// source loads a shard's text at most once.
type source struct {
	shard  *shard.Shard
	read   func(string) ([]byte, error)
	loaded bool
	data   []byte
}

func (s *source) bytes() []byte {
	if s.loaded {
		return s.data
	}
	s.loaded = true
	s.data = s.shard.Source()
	if len(s.data) > 0 {
		return s.data
	}
	read := s.read
	if read == nil {
		read = os.ReadFile
	}
	if data, err := read(s.shard.Path); err == nil {
		s.data = data
	}
	return s.data
}

// lineAt returns the trimmed 1-based line of src.
func lineAt(src []byte, line int) string {
	if line < 1 {
		return ""
	}
	for i := 1; i < line; i++ {
		nl := bytes.IndexByte(src, '\n')
		if nl < 0 {
			return ""
		}
		src = src[nl+1:]
	}
	if nl := bytes.IndexByte(src, '\n'); nl >= 0 {
		src = src[:nl]
	}
	text := strings.TrimSpace(string(src))
	if len(text) > maxSnippet {
		text = text[:maxSnippet]
	}
	return text
}
