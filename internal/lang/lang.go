// Package lang assembles the per-language readers, walkers and metadata
// extractors into immutable registries.
package lang

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/cfg"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
	"github.com/xkilldash9x/scalpel-sast/internal/lang/java"
	"github.com/xkilldash9x/scalpel-sast/internal/lang/javascript"
	"github.com/xkilldash9x/scalpel-sast/internal/lang/python"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
	"github.com/xkilldash9x/scalpel-sast/internal/syntax"
)

// Extractor builds the symbol table of a graph.
type Extractor func(g *graph.Graph, path string) *graph.Metadata

// Support bundles everything needed to analyse one language.
type Support struct {
	Language graph.Language
	Readers  *syntax.Registry
	Walkers  *cfg.Registry
	Extract  Extractor
}

type definition struct {
	readers func() []syntax.Dispatcher
	walkers func() (cfg.Roots, []cfg.Dispatcher)
	extract Extractor
}

var definitions = map[graph.Language]definition{
	graph.Java:       {readers: java.Readers, walkers: java.Walkers, extract: java.ExtractMetadata},
	graph.Python:     {readers: python.Readers, walkers: python.Walkers, extract: python.ExtractMetadata},
	graph.JavaScript: {readers: javascript.Readers, walkers: javascript.Walkers, extract: javascript.ExtractMetadata},
}

// Set is the immutable collection of language registries of one engine.
type Set struct {
	byLanguage map[graph.Language]*Support
}

// NewSet builds registries for every supported language. Overlapping dispatch
// claims surface here, at engine construction.
func NewSet() (*Set, error) {
	set := &Set{byLanguage: make(map[graph.Language]*Support, len(definitions))}
	for _, l := range graph.Languages() {
		support, err := build(l)
		if err != nil {
			return nil, err
		}
		set.byLanguage[l] = support
	}
	return set, nil
}

func build(l graph.Language) (*Support, error) {
	def, ok := definitions[l]
	if !ok {
		return nil, fmt.Errorf("no definition for language %q", l)
	}
	readers, err := syntax.NewRegistry(l, def.readers()...)
	if err != nil {
		return nil, err
	}
	roots, dispatchers := def.walkers()
	walkers, err := cfg.NewRegistry(l, roots, dispatchers...)
	if err != nil {
		return nil, err
	}
	return &Support{Language: l, Readers: readers, Walkers: walkers, Extract: def.extract}, nil
}

// For returns the support for l.
func (s *Set) For(l graph.Language) (*Support, bool) {
	support, ok := s.byLanguage[l]
	return support, ok
}

// Prepare lowers, links and indexes a shard. Marking is left to the caller
// because it depends on the rule catalog.
func (s *Set) Prepare(sh *shard.Shard, logger *zap.Logger) error {
	support, ok := s.For(sh.Language)
	if !ok {
		return fmt.Errorf("unsupported language %q for %s", sh.Language, sh.Path)
	}
	sh.Steps = syntax.Lower(sh.Graph, support.Readers, logger)
	sh.Flow = cfg.Build(sh.Graph, support.Walkers, logger)
	sh.Meta = support.Extract(sh.Graph, sh.Path)
	return nil
}
