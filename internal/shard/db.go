package shard

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// ClassRef locates a class inside a shard.
type ClassRef struct {
	Shard *Shard
	Class *graph.Class
}

// FunctionRef locates a free function inside a shard.
type FunctionRef struct {
	Shard  *Shard
	Method graph.Method
}

// DB is the set of shards analysed in one run.
type DB struct {
	shards  map[string]*Shard
	order   []string
	classes map[string][]ClassRef
	modules map[string]*Shard
	indexed bool
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{
		shards:  make(map[string]*Shard),
		classes: make(map[string][]ClassRef),
		modules: make(map[string]*Shard),
	}
}

// Add registers a shard. Paths must be unique.
func (db *DB) Add(s *Shard) error {
	if s == nil || s.Graph == nil {
		return fmt.Errorf("cannot add an empty shard")
	}
	if _, exists := db.shards[s.Path]; exists {
		return fmt.Errorf("duplicate shard path %q", s.Path)
	}
	db.shards[s.Path] = s
	db.order = append(db.order, s.Path)
	sort.Strings(db.order)
	db.indexed = false
	return nil
}

// Shard returns the shard at path.
func (db *DB) Shard(p string) (*Shard, bool) {
	s, ok := db.shards[p]
	return s, ok
}

// Shards returns every shard ordered by path.
func (db *DB) Shards() []*Shard {
	out := make([]*Shard, 0, len(db.order))
	for _, p := range db.order {
		out = append(out, db.shards[p])
	}
	return out
}

// Len returns the number of shards.
func (db *DB) Len() int { return len(db.order) }

// BuildIndex indexes classes and modules across shards. It must run after the
// metadata of every shard has been extracted.
func (db *DB) BuildIndex() {
	db.classes = make(map[string][]ClassRef)
	db.modules = make(map[string]*Shard)
	for _, p := range db.order {
		s := db.shards[p]
		db.modules[ModuleName(s.Path)] = s
		if s.Meta == nil {
			continue
		}
		for _, c := range s.Meta.UniqueClasses() {
			ref := ClassRef{Shard: s, Class: c}
			db.classes[c.Name] = append(db.classes[c.Name], ref)
			if c.QualifiedName != "" && c.QualifiedName != c.Name {
				db.classes[c.QualifiedName] = append(db.classes[c.QualifiedName], ref)
			}
		}
	}
	db.indexed = true
}

// Indexed reports whether BuildIndex ran after the last Add.
func (db *DB) Indexed() bool { return db.indexed }

// LookupClass resolves a class name as seen from the shard from. Candidates are
// preferred in this order: declared in from, declared in from's package, the
// first declaring shard by path.
func (db *DB) LookupClass(name string, from *Shard) (ClassRef, bool) {
	if name == "" {
		return ClassRef{}, false
	}
	if from != nil && from.Meta != nil {
		if c, ok := from.Meta.Class(name); ok {
			return ClassRef{Shard: from, Class: c}, true
		}
		if q, ok := from.Meta.Imports[name]; ok && q != name {
			if ref, ok := db.LookupClass(q, nil); ok {
				return ref, true
			}
		}
	}
	candidates := db.classes[name]
	if len(candidates) == 0 {
		if base := graph.BaseTypeName(name); base != name {
			candidates = db.classes[base]
		}
	}
	if len(candidates) == 0 {
		return ClassRef{}, false
	}
	if from != nil && from.Meta != nil && from.Meta.Package != "" {
		for _, ref := range candidates {
			if ref.Shard.Meta.Package == from.Meta.Package {
				return ref, true
			}
		}
	}
	return candidates[0], true
}

// LookupFunction resolves name inside the module named module.
func (db *DB) LookupFunction(module, name string) (FunctionRef, bool) {
	s, ok := db.lookupModule(module)
	if !ok || s.Meta == nil {
		return FunctionRef{}, false
	}
	m, ok := s.Meta.Functions[name]
	if !ok {
		return FunctionRef{}, false
	}
	return FunctionRef{Shard: s, Method: m}, true
}

// LookupQualified resolves a dotted `module.function` name.
func (db *DB) LookupQualified(qualified string) (FunctionRef, bool) {
	i := strings.LastIndex(qualified, ".")
	if i <= 0 {
		return FunctionRef{}, false
	}
	return db.LookupFunction(qualified[:i], qualified[i+1:])
}

func (db *DB) lookupModule(module string) (*Shard, bool) {
	if s, ok := db.modules[module]; ok {
		return s, true
	}
	suffix := "." + module
	var names []string
	for name := range db.modules {
		if strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, false
	}
	sort.Strings(names)
	return db.modules[names[0]], true
}

// ModuleName derives a dotted module name from a file path:
// "src/app/utils.py" becomes "src.app.utils". Package index files name
// their directory.
func ModuleName(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSuffix(p, path.Ext(p))
	switch path.Base(p) {
	case "__init__", "index":
		p = path.Dir(p)
	}
	p = strings.Trim(p, "/")
	return strings.ReplaceAll(p, "/", ".")
}

// ResolveRelative resolves a relative import spec such as "./utils" against
// the importing file's path and returns the module name.
func ResolveRelative(from, spec string) string {
	if !strings.HasPrefix(spec, ".") {
		return spec
	}
	return ModuleName(path.Join(path.Dir(strings.ReplaceAll(from, "\\", "/")), spec))
}
