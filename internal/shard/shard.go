// Package shard models one parsed file and the set of files analysed in a run.
package shard

import (
	"github.com/xkilldash9x/scalpel-sast/internal/cfg"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// Shard is one parsed source file plus the artifacts derived from it.
// Everything except Labels is fixed once Prepare has run; Labels is written
// once by the marker and sealed.
type Shard struct {
	Path     string
	Language graph.Language
	Graph    *graph.Graph
	Meta     *graph.Metadata
	Steps    *syntax.Steps
	Flow     *cfg.FlowGraph
	Labels   *graph.Labels
}

// New returns a shard for a freshly parsed graph.
func New(path string, lang graph.Language, g *graph.Graph) *Shard {
	return &Shard{
		Path:     path,
		Language: lang,
		Graph:    g,
		Meta:     graph.NewMetadata(),
		Labels:   graph.NewLabels(),
	}
}

// Prepared reports whether lowering, linking and marking have all run.
func (s *Shard) Prepared() bool {
	return s.Steps != nil && s.Flow != nil && s.Labels != nil && s.Labels.Sealed()
}

// Source returns the retained source bytes of the shard.
func (s *Shard) Source() []byte { return s.Graph.Source() }

// Position returns the 1-based line and column of id.
func (s *Shard) Position(id graph.NodeID) (line, column int) {
	if n := s.Graph.Node(id); n != nil {
		return n.Line, n.Column
	}
	return 0, 0
}

// EnclosingClass returns the class declared around id, if any.
func (s *Shard) EnclosingClass(id graph.NodeID) (*graph.Class, bool) {
	for cur := s.Graph.Parent(id); cur != graph.NoNode; cur = s.Graph.Parent(cur) {
		if c, ok := s.Meta.ClassAt(cur); ok {
			return c, true
		}
	}
	return nil, false
}
