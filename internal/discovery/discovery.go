// File: internal/discovery/discovery.go
// Package discovery loads the source files of a scan from a directory or a
// git revision and parses them into a graph database.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/graph"
)

// ErrTooManyFiles is returned when a tree holds more in-scope files than
// Options.MaxFiles allows.
var ErrTooManyFiles = errors.New("too many files")

// SourceFile is one file of the scan. Content is nil for files that are not
// parsed: unsupported languages and files over the size limit.
type SourceFile struct {
	Path     string // Slash separated, relative to the scan root.
	Language graph.Language
	Size     int64
	Content  []byte
}

// Supported reports whether the file's language is analyzed.
func (f SourceFile) Supported() bool { return f.Language != "" }

// Options bound what discovery collects.
type Options struct {
	Excludes    []string
	MaxFileSize int64 // Files above this size are listed without content.
	MaxFiles    int   // Zero means unlimited.
}

// OptionsFromConfig maps the discovery configuration onto Options.
func OptionsFromConfig(cfg config.DiscoveryConfig) Options {
	return Options{Excludes: cfg.Excludes, MaxFileSize: int64(cfg.MaxFileSize), MaxFiles: cfg.MaxFiles}
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return frontend.DefaultMaxFileSize
}

// collector accumulates files shared by the directory and git walkers.
type collector struct {
	opts  Options
	scope *Scope
	files []SourceFile
}

func newCollector(opts Options) *collector {
	return &collector{opts: opts, scope: NewScope(opts.Excludes)}
}

// add records rel when it is in scope; read is only called for files whose
// content is needed.
func (c *collector) add(rel string, size int64, read func() ([]byte, error)) error {
	inScope, supported := c.scope.Classify(rel)
	if !inScope {
		return nil
	}
	if c.opts.MaxFiles > 0 && len(c.files) >= c.opts.MaxFiles {
		return fmt.Errorf("%w: more than %d in scope", ErrTooManyFiles, c.opts.MaxFiles)
	}

	f := SourceFile{Path: rel, Size: size}
	if supported {
		f.Language, _ = frontend.DetectLanguage(rel)
		if size <= c.opts.maxFileSize() {
			content, err := read()
			if err != nil {
				return fmt.Errorf("reading %s: %w", rel, err)
			}
			f.Content = content
		}
	}
	c.files = append(c.files, f)
	return nil
}

func (c *collector) result() []SourceFile {
	sort.Slice(c.files, func(i, j int) bool { return c.files[i].Path < c.files[j].Path })
	return c.files
}

// FromDirectory collects the in-scope files under root. Symbolic links are
// not followed and excluded directories are not descended into.
func FromDirectory(ctx context.Context, root string, opts Options) ([]SourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cannot scan %s: not a directory", root)
	}

	c := newCollector(opts)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if c.scope.IsExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return c.add(rel, fi.Size(), func() ([]byte, error) { return os.ReadFile(p) })
	})
	if err != nil {
		return nil, err
	}
	return c.result(), nil
}

// FromGit collects the in-scope files of revision rev (HEAD when empty).
// repo is either the path of a local repository or a URL, which is cloned
// into memory. The resolved commit hash is returned alongside the files.
func FromGit(ctx context.Context, repo, rev string, opts Options) ([]SourceFile, string, error) {
	r, err := openRepository(ctx, repo)
	if err != nil {
		return nil, "", err
	}
	if rev == "" {
		rev = "HEAD"
	}

	hash, err := r.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, "", fmt.Errorf("cannot resolve revision %q: %w", rev, err)
	}
	commit, err := r.CommitObject(*hash)
	if err != nil {
		return nil, "", fmt.Errorf("cannot load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, "", fmt.Errorf("cannot load tree of %s: %w", hash, err)
	}

	c := newCollector(opts)
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Mode != filemode.Regular && f.Mode != filemode.Executable {
			return nil
		}
		return c.add(f.Name, f.Size, func() ([]byte, error) { return readBlob(f) })
	})
	if err != nil {
		return nil, "", err
	}
	return c.result(), hash.String(), nil
}

func openRepository(ctx context.Context, repo string) (*git.Repository, error) {
	if info, err := os.Stat(repo); err == nil && info.IsDir() {
		r, err := git.PlainOpenWithOptions(repo, &git.PlainOpenOptions{DetectDotGit: true})
		if err != nil {
			return nil, fmt.Errorf("cannot open repository %s: %w", repo, err)
		}
		return r, nil
	}
	r, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{URL: repo, Tags: git.NoTags})
	if err != nil {
		return nil, fmt.Errorf("cannot clone %s: %w", repo, err)
	}
	return r, nil
}

func readBlob(f *object.File) ([]byte, error) {
	rd, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}
