package reporting

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

// bufferCloser records whether Close was called.
type bufferCloser struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return b.closeErr
}

func vuln(rule, path string, node, line int) schemas.Vulnerability {
	return schemas.Vulnerability{
		RuleID: rule, Kind: "lines", Path: path,
		Line: line, Column: 3, NodeID: node,
		Description: "finding " + rule, Snippet: "  sink(x);  ",
	}
}

func decode(t *testing.T, b *bufferCloser) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b.Bytes(), &out))
	return out
}

func firstRun(t *testing.T, log map[string]interface{}) map[string]interface{} {
	t.Helper()
	runs := log["runs"].([]interface{})
	require.Len(t, runs, 1)
	return runs[0].(map[string]interface{})
}

// -- Test Cases --

func TestSARIFReporter_Close(t *testing.T) {
	catalog, err := rules.Default()
	require.NoError(t, err)
	out := &bufferCloser{}
	r := NewSARIFReporter(out, "1.2.3", catalog, zaptest.NewLogger(t))

	require.NoError(t, r.Write(&schemas.Report{
		RunID: "run-a",
		Vulnerabilities: []schemas.Vulnerability{
			vuln("F004", "b.py", 9, 2),
			vuln("F001", "a.java", 30, 4),
		},
	}))
	require.NoError(t, r.Write(&schemas.Report{
		RunID:           "run-b",
		Vulnerabilities: []schemas.Vulnerability{vuln("F001", "a.java", 12, 3)},
		Gaps:            []schemas.CoverageGap{{Path: "c.js", RuleID: "F008", Reason: schemas.GapStepBudget}},
	}))
	require.NoError(t, r.Close())
	assert.True(t, out.closed)

	log := decode(t, out)
	assert.Equal(t, "2.1.0", log["version"])
	run := firstRun(t, log)

	driver := run["tool"].(map[string]interface{})["driver"].(map[string]interface{})
	assert.Equal(t, ToolName, driver["name"])
	assert.Equal(t, "1.2.3", driver["version"])

	ruleDefs := driver["rules"].([]interface{})
	require.Len(t, ruleDefs, 2, "each rule is registered once")
	first := ruleDefs[0].(map[string]interface{})
	assert.Equal(t, "F001", first["id"])
	assert.Equal(t, "SQL injection", first["name"])
	props := first["properties"].(map[string]interface{})
	assert.Contains(t, props["tags"], "external/cwe/cwe-89")

	results := run["results"].([]interface{})
	require.Len(t, results, 3)
	var order []string
	for _, res := range results {
		m := res.(map[string]interface{})
		loc := m["locations"].([]interface{})[0].(map[string]interface{})["physicalLocation"].(map[string]interface{})
		uri := loc["artifactLocation"].(map[string]interface{})["uri"].(string)
		line := loc["region"].(map[string]interface{})["startLine"].(float64)
		order = append(order, fmt.Sprintf("%s@%s:%d", m["ruleId"], uri, int(line)))
		assert.Equal(t, "error", m["level"])
		assert.Contains(t, m["partialFingerprints"], fingerprintKey)
	}
	assert.Equal(t, []string{"F001@a.java:3", "F001@a.java:4", "F004@b.py:2"}, order)

	runProps := run["properties"].(map[string]interface{})
	assert.Equal(t, []interface{}{"run-a", "run-b"}, runProps["runIds"])
	gaps := runProps["coverageGaps"].([]interface{})
	require.Len(t, gaps, 1)
	assert.Equal(t, map[string]interface{}{"path": "c.js", "ruleId": "F008", "reason": "step_budget"}, gaps[0])
}

func TestSARIFReporter_WithoutCatalog(t *testing.T) {
	out := &bufferCloser{}
	r := NewSARIFReporter(out, "", nil, zaptest.NewLogger(t))
	v := vuln("X9", "a.py", 1, 1)
	v.CWE = []string{"79"}
	require.NoError(t, r.Write(&schemas.Report{RunID: "r", Vulnerabilities: []schemas.Vulnerability{v}}))
	require.NoError(t, r.Close())

	run := firstRun(t, decode(t, out))
	driver := run["tool"].(map[string]interface{})["driver"].(map[string]interface{})
	assert.NotContains(t, driver, "version")
	rule := driver["rules"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "X9", rule["name"])
	assert.Contains(t, rule["properties"].(map[string]interface{})["tags"], "external/cwe/cwe-79")
}

func TestSARIFReporter_CloseError(t *testing.T) {
	closeErr := errors.New("disk full")
	out := &bufferCloser{closeErr: closeErr}
	r := NewSARIFReporter(out, "", nil, zaptest.NewLogger(t))
	err := r.Close()
	assert.ErrorIs(t, err, closeErr)
	assert.True(t, out.closed)
}

func TestFingerprint(t *testing.T) {
	a := vuln("F001", "a.java", 10, 4)
	b := a
	b.Line, b.NodeID = 40, 99
	assert.Equal(t, fingerprint(a), fingerprint(b), "line moves keep the fingerprint")

	c := a
	c.Snippet = "other(x);"
	assert.NotEqual(t, fingerprint(a), fingerprint(c))
}
