// Package frontend parses source files with tree-sitter and converts the
// concrete syntax trees into arena graphs.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

var (
	// ErrUnsupportedLanguage is returned for files no grammar handles.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrFileTooLarge is returned when a file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// DefaultMaxFileSize bounds the size of a single parsed file.
const DefaultMaxFileSize = 4 << 20

var extensions = map[string]graph.Language{
	".java": graph.Java,
	".py":   graph.Python,
	".js":   graph.JavaScript,
	".mjs":  graph.JavaScript,
	".cjs":  graph.JavaScript,
	".jsx":  graph.JavaScript,
}

// DetectLanguage maps a file path to a supported language by extension.
func DetectLanguage(path string) (graph.Language, bool) {
	l, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// Parser converts source files into shards.
type Parser struct {
	logger      *zap.Logger
	maxFileSize int
}

// New returns a parser. A non-positive maxFileSize selects DefaultMaxFileSize.
func New(logger *zap.Logger, maxFileSize int) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Parser{logger: logger.Named("frontend"), maxFileSize: maxFileSize}
}

// Parse parses content as the language detected from path. Trees with syntax
// errors are kept; the error nodes simply lower to no-ops.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (*shard.Shard, error) {
	lang, ok := DetectLanguage(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path)
	}
	return p.ParseAs(ctx, path, lang, content)
}

// ParseAs parses content with the grammar of lang.
func (p *Parser) ParseAs(ctx context.Context, path string, lang graph.Language, content []byte) (*shard.Shard, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if len(content) > p.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidContent, path)
	}
	grammar, err := grammarFor(lang)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse of %s failed: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned no root for %s", path)
	}
	if root.HasError() {
		p.logger.Warn("Source contains syntax errors, analysing the recoverable parts.", zap.String("path", path))
	}
	return shard.New(path, lang, Convert(root, content)), nil
}

func grammarFor(lang graph.Language) (*sitter.Language, error) {
	switch lang {
	case graph.Java:
		return java.GetLanguage(), nil
	case graph.Python:
		return python.GetLanguage(), nil
	case graph.JavaScript:
		return javascript.GetLanguage(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
}

// Convert copies a tree-sitter tree into an arena graph. Named nodes are kept,
// as are anonymous tokens that carry a field label such as operators.
// Comments are dropped.
func Convert(root *sitter.Node, source []byte) *graph.Graph {
	b := graph.NewBuilder(source)
	type item struct {
		node   *sitter.Node
		parent graph.NodeID
		field  string
	}
	stack := []item{{node: root, parent: graph.NoNode}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := top.node
		start := n.StartPoint()
		node := graph.Node{
			Kind:      n.Type(),
			Field:     top.field,
			StartByte: n.StartByte(),
			EndByte:   n.EndByte(),
			Line:      int(start.Row) + 1,
			Column:    int(start.Column) + 1,
		}
		count := int(n.ChildCount())
		if count == 0 {
			node.Text = n.Content(source)
		}
		id := b.Add(top.parent, node)

		var children []item
		for i := 0; i < count; i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			field := n.FieldNameForChild(i)
			if !keep(child, field) {
				continue
			}
			children = append(children, item{node: child, parent: id, field: field})
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return b.Build()
}

func keep(n *sitter.Node, field string) bool {
	if strings.HasSuffix(n.Type(), "comment") {
		return false
	}
	return n.IsNamed() || field != ""
}
