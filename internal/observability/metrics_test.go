package observability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter family name with the given
// label value, or -1 when it is absent.
func counterValue(t *testing.T, m *Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()
	m.FilePrepared("ok", 5*time.Millisecond)
	m.FilePrepared("ok", time.Millisecond)
	m.FilePrepared("parse_failure", time.Millisecond)
	m.PairEvaluated("F001", 120, 2, 10*time.Millisecond)
	m.PairEvaluated("F001", 30, 0, time.Millisecond)
	m.Gap("timeout")

	assert.Equal(t, 2.0, counterValue(t, m, "scalpel_sast_engine_files_prepared_total", "ok"))
	assert.Equal(t, 1.0, counterValue(t, m, "scalpel_sast_engine_files_prepared_total", "parse_failure"))
	assert.Equal(t, 150.0, counterValue(t, m, "scalpel_sast_eval_steps_total", "F001"))
	assert.Equal(t, 2.0, counterValue(t, m, "scalpel_sast_query_vulnerabilities_total", "F001"))
	assert.Equal(t, 1.0, counterValue(t, m, "scalpel_sast_engine_coverage_gaps_total", "timeout"))
	assert.Equal(t, -1.0, counterValue(t, m, "scalpel_sast_engine_coverage_gaps_total", "parse_failure"))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.Gap("timeout")
	assert.Equal(t, 1.0, counterValue(t, a, "scalpel_sast_engine_coverage_gaps_total", "timeout"))
	assert.Equal(t, -1.0, counterValue(t, b, "scalpel_sast_engine_coverage_gaps_total", "timeout"))
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FilePrepared("ok", time.Second)
		m.PairEvaluated("F001", 1, 1, time.Second)
		m.Gap("timeout")
	})
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Gap("step_budget")
	path := filepath.Join(t.TempDir(), "scan.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `scalpel_sast_engine_coverage_gaps_total{reason="step_budget"} 1`)

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "scan.prom"))
	assert.ErrorContains(t, err, "writing metrics to")
}
