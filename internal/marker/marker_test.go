package marker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/lang"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

func prepare(t *testing.T, path, src string) *shard.Shard {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sh, err := frontend.New(logger, 0).Parse(context.Background(), path, []byte(src))
	require.NoError(t, err)
	set, err := lang.NewSet()
	require.NoError(t, err)
	require.NoError(t, set.Prepare(sh, logger))
	return sh
}

func defaultCatalog(t *testing.T) *rules.Catalog {
	t.Helper()
	c, err := rules.Default()
	require.NoError(t, err)
	return c
}

// find returns the first node of kind whose text is content.
func find(t *testing.T, sh *shard.Shard, kind, content string) graph.NodeID {
	t.Helper()
	for _, id := range sh.Graph.Descendants(sh.Graph.Root(), kind) {
		if sh.Graph.Content(id) == content {
			return id
		}
	}
	t.Fatalf("no %s node %q", kind, content)
	return graph.NoNode
}

func TestMark_Java(t *testing.T) {
	sh := prepare(t, "Servlet.java", `
class Servlet {
  void doGet(HttpServletRequest request, HttpServletResponse response, Runtime rt) throws Exception {
    String cmd = request.getParameter("cmd");
    rt.exec(cmd);
    new ProcessBuilder(cmd);
    response.getWriter().println(cmd);
  }
}
`)
	require.NoError(t, Mark(sh, defaultCatalog(t)))
	require.True(t, sh.Labels.Sealed())

	param := find(t, sh, "formal_parameter", "HttpServletRequest request")
	for _, rule := range []string{"F001", "F004", "F008", "F063"} {
		assert.True(t, sh.Labels.IsSource(param, rule), "request parameter for %s", rule)
	}
	assert.Equal(t, []string{"F001", "F004", "F008", "F063"}, sh.Labels.RulesAt(param))

	getParam := find(t, sh, "method_invocation", `request.getParameter("cmd")`)
	assert.True(t, sh.Labels.IsSource(getParam, "F004"))

	exec := find(t, sh, "method_invocation", "rt.exec(cmd)")
	sig, ok := sh.Labels.Sink(exec, "F004")
	require.True(t, ok)
	assert.True(t, sig.Consumes(0))
	_, ok = sh.Labels.Sink(exec, "F001")
	assert.False(t, ok, "exec is not a SQL sink")

	pb := find(t, sh, "object_creation_expression", "new ProcessBuilder(cmd)")
	_, ok = sh.Labels.Sink(pb, "F004")
	assert.True(t, ok)

	println := find(t, sh, "method_invocation", "response.getWriter().println(cmd)")
	_, ok = sh.Labels.Sink(println, "F008")
	assert.True(t, ok)
	assert.Equal(t, "response.getWriter.println", CallExpression(sh.Steps, println))
}

func TestMark_JavaScriptAssignmentSink(t *testing.T) {
	sh := prepare(t, "app.js", "function show(req, el) {\n  el.innerHTML = req.query.name;\n}\n")
	require.NoError(t, Mark(sh, defaultCatalog(t)))

	assign := find(t, sh, "assignment_expression", "el.innerHTML = req.query.name")
	sig, ok := sh.Labels.Sink(assign, "F008")
	require.True(t, ok)
	assert.Nil(t, sig.Args)
	assert.True(t, sig.Consumes(3))

	query := find(t, sh, "member_expression", "req.query")
	assert.True(t, sh.Labels.IsSource(query, "F008"))
	assert.NotEmpty(t, sh.Labels.Sources("F001"))
}

func TestMark_PythonImportAliases(t *testing.T) {
	sh := prepare(t, "app.py", "import os as o\nfrom subprocess import call\no.system(input())\ncall(input())\n")
	require.NoError(t, Mark(sh, defaultCatalog(t)))

	sinks := sh.Labels.Sinks("F004")
	require.Len(t, sinks, 2)
	assert.Equal(t, "o.system(input())", sh.Graph.Content(sinks[0]))
	assert.Equal(t, "call(input())", sh.Graph.Content(sinks[1]))
	assert.Len(t, sh.Labels.Sources("F004"), 2)
}

func TestMark_Errors(t *testing.T) {
	catalog := defaultCatalog(t)

	t.Run("sealed", func(t *testing.T) {
		sh := prepare(t, "app.py", "x = 1\n")
		require.NoError(t, Mark(sh, catalog))
		assert.ErrorIs(t, Mark(sh, catalog), graph.ErrLabelsSealed)
	})

	t.Run("not lowered", func(t *testing.T) {
		sh, err := frontend.New(zaptest.NewLogger(t), 0).Parse(context.Background(), "app.py", []byte("x = 1\n"))
		require.NoError(t, err)
		assert.Error(t, Mark(sh, catalog))
	})
}

func TestCallExpression_NonCall(t *testing.T) {
	sh := prepare(t, "app.py", "x = 1\n")
	var literal graph.NodeID = graph.NoNode
	sh.Steps.Each(func(st syntax.Step) {
		if _, ok := st.(*syntax.Literal); ok && literal == graph.NoNode {
			literal = st.Node()
		}
	})
	require.NotEqual(t, graph.NoNode, literal)
	assert.Empty(t, CallExpression(sh.Steps, literal))
}
