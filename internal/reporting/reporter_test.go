package reporting_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

func sampleReport() *schemas.Report {
	return &schemas.Report{
		RunID:      "run-1",
		Root:       "/src/app",
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC),
		Rules:      []string{"F001", "F004"},
		Files:      2,
		Steps:      99,
		Vulnerabilities: []schemas.Vulnerability{{
			RuleID: "F001", Kind: "lines", Path: "src/Servlet.java",
			Line: 4, Column: 5, NodeID: 37, CWE: []string{"89"},
			Description: "SQL injection", Snippet: `st.executeQuery("SELECT " + id);`,
		}},
		Gaps: []schemas.CoverageGap{{Path: "web/app.js", RuleID: "F004", Reason: schemas.GapTimeout}},
	}
}

func TestNew_Failures(t *testing.T) {
	_, err := reporting.New("sarif", "stdout", testToolVersion, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger cannot be nil")

	tmpFile := filepath.Join(t.TempDir(), "output.txt")
	r, err := reporting.New("text", tmpFile, testToolVersion, nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "unsupported output format: text")
	_, statErr := os.Stat(tmpFile)
	assert.True(t, os.IsNotExist(statErr), "no file is created for an unsupported format")

	_, err = reporting.New("json", filepath.Join(t.TempDir(), "missing", "out.json"), testToolVersion, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{"json", "sarif"} {
		t.Run(format, func(t *testing.T) {
			r, err := reporting.New(format, "", testToolVersion, nil, zaptest.NewLogger(t))
			require.NoError(t, err)
			// Closing the SARIF reporter would print an empty log.
			if format == "json" {
				assert.NoError(t, r.Close())
			}
		})
	}
}

func TestJSONReporter_File(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	r, err := reporting.New("json", out, testToolVersion, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var decoded schemas.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *sampleReport(), decoded)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "run-1", raw["run_id"])
	vulns := raw["vulnerabilities"].([]interface{})
	assert.Equal(t, "src/Servlet.java", vulns[0].(map[string]interface{})["path"])
	assert.Equal(t, float64(37), vulns[0].(map[string]interface{})["node_id"])
}
