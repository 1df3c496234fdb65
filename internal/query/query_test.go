package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/eval"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/lang"
	"github.com/xkilldash9x/scalpel-sast/internal/marker"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

var corpus = map[string]string{
	"src/Servlet.java": `class Servlet {
  void doGet(HttpServletRequest request, Statement st, Runtime rt) throws Exception {
    String id = request.getParameter("id");
    st.executeQuery("SELECT * FROM t WHERE id = " + id);
    st.executeQuery("SELECT 1");
    rt.exec(id);
  }
}
`,
	"app/views.py": `import os
from flask import request

def show():
    name = request.args.get("name")
    os.system("echo " + name)
    os.system("date")
`,
	"web/app.js": `function handler(req, res, db) {
  const q = req.query.q;
  db.query("SELECT " + q);
  res.send(q);
}
`,
	"README.md": "not code\n",
}

func buildDB(t *testing.T, files map[string]string) (*shard.DB, *rules.Catalog) {
	t.Helper()
	catalog, err := rules.Default()
	require.NoError(t, err)
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
		if errors.Is(err, frontend.ErrUnsupportedLanguage) {
			continue
		}
		require.NoError(t, err)
		require.NoError(t, set.Prepare(sh, logger))
		require.NoError(t, marker.Mark(sh, catalog))
		require.NoError(t, db.Add(sh))
	}
	db.BuildIndex()
	return db, catalog
}

func TestRun(t *testing.T) {
	db, catalog := buildDB(t, corpus)
	ctx := context.Background()

	t.Run("sql injection", func(t *testing.T) {
		out, err := Run(ctx, db, catalog, "F001", Options{})
		require.NoError(t, err)
		assert.Empty(t, out.Gaps)
		require.Len(t, out.Vulnerabilities, 2)

		java := out.Vulnerabilities[0]
		assert.Equal(t, "src/Servlet.java", java.Path)
		assert.Equal(t, 4, java.Line)
		assert.Equal(t, 5, java.Column)
		assert.Equal(t, []string{"89"}, java.CWE)
		assert.Equal(t, rules.KindLines, java.Kind)
		assert.Equal(t, `st.executeQuery("SELECT * FROM t WHERE id = " + id);`, java.Snippet)
		assert.NotEmpty(t, java.Description)

		assert.Equal(t, "web/app.js", out.Vulnerabilities[1].Path)
		assert.Equal(t, 3, out.Vulnerabilities[1].Line)
		assert.Greater(t, out.Steps, int64(0))
	})

	t.Run("command injection", func(t *testing.T) {
		out, err := Run(ctx, db, catalog, "F004", Options{})
		require.NoError(t, err)
		var got []string
		for _, v := range out.Vulnerabilities {
			got = append(got, fmt.Sprintf("%s:%d", v.Path, v.Line))
		}
		assert.Equal(t, []string{"app/views.py:6", "src/Servlet.java:6"}, got)
	})

	t.Run("unknown rule", func(t *testing.T) {
		_, err := Run(ctx, db, catalog, "F999", Options{})
		assert.ErrorIs(t, err, rules.ErrUnknownRule)
	})
}

func TestRun_Deterministic(t *testing.T) {
	var runs [][]schemas.Vulnerability
	for i := 0; i < 3; i++ {
		db, catalog := buildDB(t, corpus)
		var all []schemas.Vulnerability
		for _, id := range catalog.IDs() {
			out, err := Run(context.Background(), db, catalog, id, Options{})
			require.NoError(t, err)
			all = append(all, out.Vulnerabilities...)
		}
		runs = append(runs, all)
	}
	for i := 1; i < len(runs); i++ {
		if diff := cmp.Diff(runs[0], runs[i]); diff != "" {
			t.Fatalf("run %d differs (-first +later):\n%s", i, diff)
		}
	}
}

func TestRun_BudgetBecomesGap(t *testing.T) {
	db, catalog := buildDB(t, corpus)
	out, err := Run(context.Background(), db, catalog, "F001", Options{Budget: eval.Budget{MaxSteps: 2}})
	require.NoError(t, err)
	assert.Empty(t, out.Vulnerabilities)
	require.Len(t, out.Gaps, 2)
	for _, g := range out.Gaps {
		assert.Equal(t, schemas.GapStepBudget, g.Reason)
		assert.Equal(t, "F001", g.RuleID)
	}
}

const branchy = `class Branchy {
  void doGet(HttpServletRequest request, Statement st, boolean c) throws Exception {
    st.executeQuery("SELECT " + request.getParameter("x"));
    int n = 0;
    if (c) { n = 1; }
    if (c) { n = 2; }
    if (c) { n = 3; }
    if (c) { n = 4; }
    if (c) { n = 5; }
    if (c) { n = 6; }
    if (c) { n = 7; }
    String id;
    if (c) { id = "2"; } else { id = request.getParameter("id"); }
    st.executeQuery("SELECT * FROM t WHERE id = " + id);
  }
}
`

func TestRun_PathBudgetBecomesGap(t *testing.T) {
	db, catalog := buildDB(t, map[string]string{"src/Branchy.java": branchy})

	out, err := Run(context.Background(), db, catalog, "F001", Options{})
	require.NoError(t, err)
	require.Len(t, out.Vulnerabilities, 1, "findings of the shard survive the cut")
	assert.Equal(t, 3, out.Vulnerabilities[0].Line)
	require.Len(t, out.Gaps, 1)
	g := out.Gaps[0]
	assert.Equal(t, schemas.GapPathBudget, g.Reason)
	assert.Equal(t, "src/Branchy.java", g.Path)
	assert.Equal(t, "F001", g.RuleID)
	assert.Contains(t, g.Detail, "line 14")

	out, err = Run(context.Background(), db, catalog, "F001", Options{Budget: eval.Budget{MaxPaths: 1024}})
	require.NoError(t, err)
	assert.Empty(t, out.Gaps)
	var lines []int
	for _, v := range out.Vulnerabilities {
		lines = append(lines, v.Line)
	}
	assert.Equal(t, []int{3, 14}, lines)
}

func TestRun_CanceledContextAborts(t *testing.T) {
	db, catalog := buildDB(t, corpus)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, db, catalog, "F001", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGap(t *testing.T) {
	g, ok := Gap("a.py", "F001", fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	require.True(t, ok)
	assert.Equal(t, schemas.GapTimeout, g.Reason)
	assert.Contains(t, g.Detail, "wrapped")

	g, ok = Gap("a.py", "F001", fmt.Errorf("evaluating a.py for F001: %w", eval.ErrPathsTruncated))
	require.True(t, ok)
	assert.Equal(t, schemas.GapPathBudget, g.Reason)

	g, ok = Gap("a.py", "F001", eval.ErrBudgetExhausted)
	require.True(t, ok)
	assert.Equal(t, schemas.GapStepBudget, g.Reason)

	_, ok = Gap("a.py", "F001", errors.New("boom"))
	assert.False(t, ok)
}

func TestDedupe(t *testing.T) {
	in := []schemas.Vulnerability{
		{RuleID: "F001", Path: "b.js", NodeID: 1},
		{RuleID: "F001", Path: "a.js", NodeID: 7},
		{RuleID: "F001", Path: "a.js", NodeID: 7, Snippet: "dup"},
		{RuleID: "F001", Path: "a.js", NodeID: 3},
	}
	out := Dedupe(in)
	want := []schemas.Vulnerability{
		{RuleID: "F001", Path: "a.js", NodeID: 3},
		{RuleID: "F001", Path: "a.js", NodeID: 7},
		{RuleID: "F001", Path: "b.js", NodeID: 1},
	}
	assert.Empty(t, cmp.Diff(want, out))
}

func TestLineAt(t *testing.T) {
	src := []byte("first\n   second line  \nthird")
	assert.Equal(t, "first", lineAt(src, 1))
	assert.Equal(t, "second line", lineAt(src, 2))
	assert.Equal(t, "third", lineAt(src, 3))
	assert.Equal(t, "", lineAt(src, 4))
	assert.Equal(t, "", lineAt(src, 0))
}

func TestSourceFallsBackToFile(t *testing.T) {
	db, _ := buildDB(t, corpus)
	sh, ok := db.Shard("web/app.js")
	require.True(t, ok)

	reads := 0
	src := &source{shard: sh, read: func(string) ([]byte, error) {
		reads++
		return nil, errors.New("unused")
	}}
	assert.Equal(t, []byte(corpus["web/app.js"]), src.bytes())
	assert.Zero(t, reads, "shard source is preferred")
}
