package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCall builds the tree for `db.execute(v)` without any source text.
func buildCall(t *testing.T) (*Graph, map[string]NodeID) {
	t.Helper()
	b := NewBuilder(nil)
	ids := make(map[string]NodeID)
	ids["root"] = b.Inner(NoNode, "program", "", 1)
	ids["stmt"] = b.Inner(ids["root"], "expression_statement", "", 1)
	ids["call"] = b.Inner(ids["stmt"], "method_invocation", "", 1)
	ids["object"] = b.Leaf(ids["call"], "identifier", "object", "db", 1)
	ids["dot"] = b.Leaf(ids["call"], ".", "", ".", 1)
	ids["name"] = b.Leaf(ids["call"], "identifier", "name", "execute", 1)
	ids["args"] = b.Inner(ids["call"], "argument_list", "arguments", 1)
	ids["open"] = b.Leaf(ids["args"], "(", "", "(", 1)
	ids["arg"] = b.Leaf(ids["args"], "identifier", "", "v", 1)
	ids["close"] = b.Leaf(ids["args"], ")", "", ")", 1)
	return b.Build(), ids
}

func TestGraph_Navigation(t *testing.T) {
	g, ids := buildCall(t)

	assert.Equal(t, NodeID(0), g.Root())
	assert.Equal(t, 10, g.Len())
	assert.Equal(t, ids["call"], g.Parent(ids["object"]))
	assert.Equal(t, ids["name"], g.ChildByField(ids["call"], "name"))
	assert.Equal(t, NoNode, g.ChildByField(ids["call"], "missing"))
	assert.Equal(t, []NodeID{ids["object"], ids["name"]}, g.ChildrenOfKind(ids["call"], "identifier"))
	assert.Equal(t, ids["stmt"], g.Ancestor(ids["arg"], "expression_statement"))
	assert.Equal(t, NoNode, g.Ancestor(ids["root"], "program"))
	assert.Nil(t, g.Node(NodeID(99)))
}

func TestGraph_Match(t *testing.T) {
	g, ids := buildCall(t)

	matched, ok := g.Match(ids["call"], "identifier", "argument_list", "identifier")
	require.True(t, ok)
	assert.Equal(t, []NodeID{ids["object"], ids["args"], ids["name"]}, matched)

	matched, ok = g.Match(ids["call"], "identifier", "lambda_expression")
	assert.False(t, ok)
	assert.Equal(t, NoNode, matched[1])
}

func TestGraph_ContentWithoutSource(t *testing.T) {
	g, ids := buildCall(t)
	assert.Equal(t, "db.execute(v)", g.Content(ids["call"]))
	assert.Equal(t, "v", g.Content(ids["arg"]))
}

func TestGraph_ContentFromSource(t *testing.T) {
	src := []byte("x = 1")
	b := NewBuilder(src)
	root := b.Add(NoNode, Node{Kind: "module", EndByte: 5, Line: 1, Column: 1})
	b.Add(root, Node{Kind: "identifier", StartByte: 0, EndByte: 1, Line: 1, Column: 1})
	g := b.Build()

	assert.Equal(t, "x = 1", g.Content(root))
	assert.Equal(t, "x", g.Content(1))
	assert.Equal(t, src, g.Source())
}

func TestGraph_Traversals(t *testing.T) {
	g, ids := buildCall(t)

	post := g.PostOrder()
	require.Len(t, post, g.Len())
	pos := make(map[NodeID]int, len(post))
	for i, id := range post {
		pos[id] = i
	}
	for i := 0; i < g.Len(); i++ {
		for _, c := range g.Children(NodeID(i)) {
			assert.Less(t, pos[c], pos[NodeID(i)], "child must precede parent")
		}
	}

	var visited []NodeID
	g.Walk(g.Root(), func(id NodeID) bool {
		visited = append(visited, id)
		return id != ids["args"]
	})
	assert.NotContains(t, visited, ids["arg"])
	assert.Contains(t, visited, ids["args"])

	assert.Equal(t, []NodeID{ids["object"], ids["name"], ids["arg"]}, g.Descendants(ids["stmt"], "identifier"))
	assert.Contains(t, g.Kinds(), "argument_list")
}

func TestLabels_SetSemanticsAndSeal(t *testing.T) {
	l := NewLabels()
	require.NoError(t, l.AddSource(3, "F001"))
	require.NoError(t, l.AddSource(3, "F001"))
	require.NoError(t, l.AddSource(3, "F004"))
	require.NoError(t, l.AddSink(7, "F001", SinkSignature{Args: []int{1}}))
	require.NoError(t, l.AddSink(7, "F001", SinkSignature{Args: []int{0, 1}}))
	require.NoError(t, l.AddSink(9, "F001", SinkSignature{}))

	assert.True(t, l.IsSource(3, "F001"))
	assert.False(t, l.IsSource(3, "F008"))
	assert.Equal(t, []string{"F001", "F004"}, l.RulesAt(3))
	assert.Equal(t, []NodeID{7, 9}, l.Sinks("F001"))
	assert.Equal(t, []NodeID{3}, l.Sources("F004"))

	sig, ok := l.Sink(7, "F001")
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, sig.Args)
	assert.True(t, sig.Consumes(0))
	assert.False(t, sig.Consumes(2))

	sig, _ = l.Sink(9, "F001")
	assert.True(t, sig.Consumes(42))

	l.Seal()
	assert.True(t, l.Sealed())
	assert.ErrorIs(t, l.AddSource(1, "F001"), ErrLabelsSealed)
	assert.ErrorIs(t, l.AddSink(1, "F001", SinkSignature{}), ErrLabelsSealed)
}

func TestMetadata_Lookups(t *testing.T) {
	m := NewMetadata()
	m.Package = "com.acme"
	c := NewClass("Service", Qualify(m.Package, "Service"), 4)
	c.AddMethod(Method{Name: "run", Params: []Param{{Name: "a"}}})
	c.AddMethod(Method{Name: "run", Params: []Param{{Name: "a"}, {Name: "b"}}})
	m.AddClass(c)
	m.Imports["sp"] = "subprocess"

	byShort, ok := m.Class("Service")
	require.True(t, ok)
	byQualified, ok := m.Class("com.acme.Service")
	require.True(t, ok)
	assert.Same(t, byShort, byQualified)
	assert.Len(t, m.UniqueClasses(), 1)

	method, ok := c.Method("run", 2)
	require.True(t, ok)
	assert.Len(t, method.Params, 2)
	assert.Equal(t, "Service", method.Class)

	method, ok = c.Method("run", 5)
	require.True(t, ok)
	assert.Len(t, method.Params, 1)

	found, ok := m.ClassAt(4)
	require.True(t, ok)
	assert.Equal(t, "Service", found.Name)

	assert.Equal(t, "subprocess.call", m.Resolve("sp.call"))
	assert.Equal(t, "subprocess", m.Resolve("sp"))
	assert.Equal(t, "os.system", m.Resolve("os.system"))
}

func TestBaseTypeName(t *testing.T) {
	cases := map[string]string{
		"HttpServletRequest":                   "HttpServletRequest",
		"javax.servlet.http.HttpServletRequest": "HttpServletRequest",
		"Map<String, String>":                  "Map",
		"String[]":                             "String",
		"String...":                            "String",
	}
	for in, want := range cases {
		assert.Equal(t, want, BaseTypeName(in), in)
	}
	assert.Equal(t, "execute", LastSegment("db.execute"))
	assert.Equal(t, "execute", LastSegment("execute"))
}
