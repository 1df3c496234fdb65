package schemas

import (
	"sort"
	"time"
)

// Report is the outcome of one scan: every vulnerability found and every gap
// in coverage, in deterministic order.
type Report struct {
	RunID      string    `json:"run_id"`
	Root       string    `json:"root"`
	Revision   string    `json:"revision,omitempty"` // Git revision, for scans of a repository.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Rules []string `json:"rules"` // Ids of the rules that ran.
	Files int      `json:"files"` // Number of files analyzed.
	Steps int64    `json:"steps"` // Total evaluation steps spent.

	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Gaps            []CoverageGap   `json:"gaps"`
}

// Sort orders vulnerabilities by path, node and rule, and gaps by path, rule
// and reason.
func (r *Report) Sort() {
	sort.SliceStable(r.Vulnerabilities, func(i, j int) bool {
		a, b := r.Vulnerabilities[i], r.Vulnerabilities[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.RuleID < b.RuleID
	})
	sort.SliceStable(r.Gaps, func(i, j int) bool {
		a, b := r.Gaps[i], r.Gaps[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Reason < b.Reason
	})
	sort.Strings(r.Rules)
}

// CountByRule returns the number of vulnerabilities per rule id.
func (r *Report) CountByRule() map[string]int {
	out := make(map[string]int)
	for _, v := range r.Vulnerabilities {
		out[v.RuleID]++
	}
	return out
}
