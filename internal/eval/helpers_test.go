package eval

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/lang"
	"github.com/xkilldash9x/scalpel-sast/internal/marker"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

const testRule = "T001"

// testCatalog registers source()/input() as sources and sink()/exec/execute
// as sinks consuming their first argument, for every language.
const testCatalog = `
propagators:
  java: [getParameter, toString, StringBuilder]
  python: [str]
  javascript: [String]
rules:
  - id: T001
    cwe: ["20"]
    languages:
      java:
        sources:
          types: [UntrustedRequest]
          methods: [source]
        sinks:
          - method: sink
            args: [0]
          - method: execute
            args: [0]
          - method: exec
            args: [0]
      python:
        sources:
          methods: [source, input]
        sinks:
          - method: sink
            args: [0]
          - method: os.system
            args: [0]
      javascript:
        sources:
          methods: [source]
          members: [req.query]
        sinks:
          - method: sink
            args: [0]
          - method: res.send
            args: [0]
`

type fixture struct {
	db      *shard.DB
	catalog *rules.Catalog
	rule    *rules.Rule
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	catalog, err := rules.Parse([]byte(testCatalog))
	require.NoError(t, err)
	rule, ok := catalog.Rule(testRule)
	require.True(t, ok)

	set, err := lang.NewSet()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	parser := frontend.New(logger, 0)

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	db := shard.NewDB()
	for _, p := range paths {
		sh, err := parser.Parse(context.Background(), p, []byte(files[p]))
		require.NoError(t, err)
		require.NoError(t, set.Prepare(sh, logger))
		require.NoError(t, marker.Mark(sh, catalog))
		require.NoError(t, db.Add(sh))
	}
	db.BuildIndex()
	return &fixture{db: db, catalog: catalog, rule: rule}
}

func (fx *fixture) shard(t *testing.T, path string) *shard.Shard {
	t.Helper()
	sh, ok := fx.db.Shard(path)
	require.True(t, ok, "missing shard %s", path)
	return sh
}

// evaluate evaluates every sink of path in node order.
func (fx *fixture) evaluate(t *testing.T, path string, budget Budget) []Result {
	t.Helper()
	sh := fx.shard(t, path)
	ev := New(fx.db, fx.catalog, fx.rule, budget)
	var out []Result
	for _, id := range sh.Labels.Sinks(testRule) {
		res, err := ev.EvaluateSink(context.Background(), sh, id)
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func dangerous(results []Result) []bool {
	out := make([]bool, len(results))
	for i, r := range results {
		out[i] = r.Dangerous
	}
	return out
}

// nodesOfKind returns the ids of kind in the shard, in source order.
func nodesOfKind(sh *shard.Shard, kind string) []graph.NodeID {
	return sh.Graph.Descendants(sh.Graph.Root(), kind)
}
