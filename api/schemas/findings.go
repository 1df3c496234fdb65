package schemas

// -- Finding Schemas --

// Vulnerability is a single taint finding: dangerous data reaching a sink of
// a rule. Records are created only by the query layer and map directly to
// the `vulnerabilities` table in the database.
type Vulnerability struct {
	RuleID string `json:"rule_id"` // The id of the rule that matched, e.g. "F001".
	Kind   string `json:"kind"`    // "lines" or "inputs".
	Path   string `json:"path"`    // Path of the file, relative to the scan root.

	// Line and Column locate the sink node, 1-based.
	Line   int `json:"line"`
	Column int `json:"column"`

	// NodeID is the sink's node id within the file's graph. Together with
	// Path it identifies the finding.
	NodeID int `json:"node_id"`

	CWE         []string `json:"cwe,omitempty"` // Common Weakness Enumeration identifiers.
	Description string   `json:"description"`
	Snippet     string   `json:"snippet,omitempty"` // Source line of the sink.
}

// GapReason explains why part of the code base was not analyzed.
type GapReason string

// Constants for the reasons a coverage gap is recorded.
const (
	GapParseFailure        GapReason = "parse_failure"
	GapTimeout             GapReason = "timeout"
	GapStepBudget          GapReason = "step_budget"
	GapPathBudget          GapReason = "path_budget"
	GapInternalError       GapReason = "internal_error"
	GapUnsupportedLanguage GapReason = "unsupported_language"
)

// CoverageGap records a file, or a file and rule pair, that was skipped.
// An empty RuleID means the whole file was skipped.
type CoverageGap struct {
	Path   string    `json:"path"`
	RuleID string    `json:"rule_id,omitempty"`
	Reason GapReason `json:"reason"`
	Detail string    `json:"detail,omitempty"`
}
