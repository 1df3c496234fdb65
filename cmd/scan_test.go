package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
)

var scanTree = map[string]string{
	"app/views.py": `import os
from flask import request

def show():
    name = request.args.get("name")
    os.system("echo " + name)
    return open(name).read()
`,
	"app/safe.py":       "def ok():\n    return 1\n",
	"web/server.ts":     "const a: number = 1;\n",
	"node_modules/x.js": "require('child_process').exec(process.argv[2]);\n",
}

func readReport(t *testing.T, path string) schemas.Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report schemas.Report
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func scanConfig(t *testing.T, sc config.ScanConfig) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetEngineWorkerConcurrency(2)
	if sc.Format == "" {
		sc.Format = reporting.FormatJSON
	}
	cfg.SetScanConfig(sc)
	return cfg
}

// -- Test Cases --

func TestScanCmd_TargetFlags(t *testing.T) {
	_, err := executeCommand(t, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[path git]")

	_, err = executeCommand(t, "scan", "--path", ".", "--git", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")

	_, err = executeCommand(t, "scan", "--path", ".", "--rev", "main")
	assert.EqualError(t, err, "--rev requires --git")

	_, err = executeCommand(t, "scan", "--path", ".", "--format", "html")
	assert.EqualError(t, err, "unsupported output format: html")
}

func TestApplyScanFlagOverrides(t *testing.T) {
	tests := []struct {
		name                string
		args                []string
		expectedConcurrency int
		expectedTimeout     time.Duration
		expectedRulesPath   string
		extraExclude        string
		expectedErr         string
	}{
		{
			name:                "No override flags keep the config",
			args:                []string{"--path", "src"},
			expectedConcurrency: 8, expectedTimeout: time.Minute,
		},
		{
			name:                "Engine flags override the config",
			args:                []string{"--path", "src", "-j", "3", "--pair-timeout", "5s"},
			expectedConcurrency: 3, expectedTimeout: 5 * time.Second,
		},
		{
			name:                "Catalog and exclude flags",
			args:                []string{"--path", "src", "--rules", "/tmp/rules.yaml", "--exclude", "build"},
			expectedConcurrency: 8, expectedTimeout: time.Minute,
			expectedRulesPath: "/tmp/rules.yaml", extraExclude: "build",
		},
		{
			name:        "Non-positive concurrency is rejected",
			args:        []string{"--path", "src", "--concurrency", "0"},
			expectedErr: "--concurrency must be positive, got 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			scanCmd := newScanCmd()
			require.NoError(t, scanCmd.ParseFlags(tt.args))

			err := applyScanFlagOverrides(scanCmd, cfg)
			if tt.expectedErr != "" {
				assert.EqualError(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "src", cfg.Scan().Path)
			assert.Equal(t, reporting.FormatJSON, cfg.Scan().Format)
			assert.Equal(t, tt.expectedConcurrency, cfg.Engine().WorkerConcurrency)
			assert.Equal(t, tt.expectedTimeout, cfg.Engine().PairTimeout)
			assert.Equal(t, tt.expectedRulesPath, cfg.Rules().Path)
			if tt.extraExclude != "" {
				assert.Contains(t, cfg.Discovery().Excludes, tt.extraExclude)
				assert.Contains(t, cfg.Discovery().Excludes, "node_modules")
			}
		})
	}

	t.Run("Repeated rule flags", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		scanCmd := newScanCmd()
		require.NoError(t, scanCmd.ParseFlags([]string{"--git", "repo", "--rev", "v1", "--rule", "F001", "--rule", "F004", "--persist"}))
		require.NoError(t, applyScanFlagOverrides(scanCmd, cfg))
		assert.Equal(t, config.ScanConfig{
			Repo: "repo", Revision: "v1", RuleIDs: []string{"F001", "F004"},
			Format: reporting.FormatJSON, Persist: true,
		}, cfg.Scan())
	})
}

func TestRunScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, scanTree)
	out := filepath.Join(t.TempDir(), "report.json")

	cfg := scanConfig(t, config.ScanConfig{Path: root, Output: out})
	provider := &fakeProvider{store: &fakeStore{}}
	require.NoError(t, runScan(context.Background(), zaptest.NewLogger(t), cfg, provider))

	report := readReport(t, out)
	assert.Equal(t, root, report.Root)
	assert.Empty(t, report.Revision)
	assert.Equal(t, []string{"F001", "F004", "F008", "F063"}, report.Rules)
	assert.Equal(t, 2, report.Files)

	require.Len(t, report.Vulnerabilities, 2)
	assert.Equal(t, "F004", report.Vulnerabilities[0].RuleID)
	assert.Equal(t, "app/views.py", report.Vulnerabilities[0].Path)
	assert.Equal(t, 6, report.Vulnerabilities[0].Line)
	assert.Equal(t, "F063", report.Vulnerabilities[1].RuleID)
	assert.Equal(t, 7, report.Vulnerabilities[1].Line)

	assert.Equal(t, []schemas.CoverageGap{{Path: "web/server.ts", Reason: schemas.GapUnsupportedLanguage}}, report.Gaps)
	assert.Empty(t, provider.store.persisted, "nothing is stored without --persist")
}

func TestRunScan_RuleSelectionAndPersist(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, scanTree)
	out := filepath.Join(t.TempDir(), "report.json")

	cfg := scanConfig(t, config.ScanConfig{Path: root, Output: out, RuleIDs: []string{"F063"}, Persist: true})
	provider := &fakeProvider{store: &fakeStore{}}
	require.NoError(t, runScan(context.Background(), zaptest.NewLogger(t), cfg, provider))

	report := readReport(t, out)
	require.Len(t, report.Vulnerabilities, 1)
	assert.Equal(t, "F063", report.Vulnerabilities[0].RuleID)

	require.Len(t, provider.store.persisted, 1)
	assert.Equal(t, 1, provider.store.schemaCalls)
	assert.Equal(t, report.RunID, provider.store.persisted[0].RunID)
	assert.True(t, provider.cleaned)
}

func TestRunScan_Failures(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, scanTree)
	logger := zaptest.NewLogger(t)

	t.Run("unknown rule fails before discovery", func(t *testing.T) {
		cfg := scanConfig(t, config.ScanConfig{Path: filepath.Join(root, "missing"), RuleIDs: []string{"F404"}})
		err := runScan(context.Background(), logger, cfg, &fakeProvider{})
		assert.ErrorIs(t, err, rules.ErrUnknownRule)
	})

	t.Run("missing directory", func(t *testing.T) {
		cfg := scanConfig(t, config.ScanConfig{Path: filepath.Join(root, "missing")})
		err := runScan(context.Background(), logger, cfg, &fakeProvider{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "discovery failed")
	})

	t.Run("store errors surface", func(t *testing.T) {
		persistErr := errors.New("connection refused")
		cfg := scanConfig(t, config.ScanConfig{Path: root, Output: filepath.Join(t.TempDir(), "r.json"), Persist: true})
		err := runScan(context.Background(), logger, cfg, &fakeProvider{store: &fakeStore{persistErr: persistErr}})
		assert.ErrorIs(t, err, persistErr)

		providerErr := errors.New("database URL is not configured")
		err = runScan(context.Background(), logger, cfg, &fakeProvider{err: providerErr})
		assert.ErrorIs(t, err, providerErr)
	})

	t.Run("canceled scan", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cfg := scanConfig(t, config.ScanConfig{Path: root})
		err := runScan(ctx, logger, cfg, &fakeProvider{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunScan_SARIFAndMetrics(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, scanTree)
	outDir := t.TempDir()
	out := filepath.Join(outDir, "report.sarif")
	metricsPath := filepath.Join(outDir, "scalpel.prom")

	cfg := scanConfig(t, config.ScanConfig{Path: root, Output: out, Format: reporting.FormatSARIF})
	cfg.MetricsCfg = config.MetricsConfig{Enabled: true, TextfilePath: metricsPath}
	require.NoError(t, runScan(context.Background(), zaptest.NewLogger(t), cfg, &fakeProvider{}))

	var log map[string]interface{}
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &log))
	assert.Equal(t, "2.1.0", log["version"])

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `scalpel_sast_engine_coverage_gaps_total{reason="unsupported_language"} 1`)
	assert.Contains(t, string(metrics), `scalpel_sast_query_vulnerabilities_total{rule="F004"} 1`)
}

func TestScanCmd_GitRevision(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	writeFiles(t, root, scanTree)
	for rel := range scanTree {
		_, err := wt.Add(rel)
		require.NoError(t, err)
	}
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "report.json")

	_, err = executeCommand(t, "scan", "--git", root, "--rev", hash.String(), "--rule", "F004", "--output", out)
	require.NoError(t, err)

	report := readReport(t, out)
	assert.Equal(t, root, report.Root)
	assert.Equal(t, hash.String(), report.Revision)
	assert.Equal(t, []string{"F004"}, report.Rules)
	require.Len(t, report.Vulnerabilities, 1)
	assert.Equal(t, "app/views.py", report.Vulnerabilities[0].Path)
}
