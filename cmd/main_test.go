package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// resetForTest isolates package state and silences the global logger.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)
}

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

// -- Fakes --

type fakeStore struct {
	schemaCalls int
	persisted   []*schemas.Report
	persistErr  error
	report      *schemas.Report
	getErr      error
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error {
	s.schemaCalls++
	return nil
}

func (s *fakeStore) PersistReport(ctx context.Context, report *schemas.Report) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.persisted = append(s.persisted, report)
	return nil
}

func (s *fakeStore) GetReport(ctx context.Context, runID string) (*schemas.Report, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.report, nil
}

type fakeProvider struct {
	store   *fakeStore
	err     error
	cleaned bool
}

func (p *fakeProvider) Create(ctx context.Context, cfg config.Interface) (reportStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}
