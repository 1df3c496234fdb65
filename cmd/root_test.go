// File: cmd/root_test.go
package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "scalpel-sast "+Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Scalpel-SAST finds taint vulnerabilities")
	assert.Contains(t, out, "scan")
	assert.Contains(t, out, "rules")
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()

	t.Run("config file values are applied", func(t *testing.T) {
		path := filepath.Join(dir, "missing-rules.yaml")
		cfg := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(cfg, []byte("rules:\n  path: "+path+"\n"), 0o644))

		_, err := executeCommand(t, "--config", cfg, "rules")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load rule catalog")
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		cfg := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(cfg, []byte("logger:\n  format: xml\n"), 0o644))

		_, err := executeCommand(t, "--config", cfg, "rules")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load or validate config")
	})

	t.Run("unreadable config file", func(t *testing.T) {
		_, err := executeCommand(t, "--config", filepath.Join(dir, "nope.yaml"), "rules")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("SCALPEL_RULES_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := executeCommand(t, "rules")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load rule catalog")
}

func TestGetConfigFromContext(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	assert.EqualError(t, err, "configuration not found in context")
}
