package discovery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

// BuildOptions tune parsing.
type BuildOptions struct {
	Concurrency  int           // Zero selects GOMAXPROCS.
	ParseTimeout time.Duration // Zero disables the per-file timeout.
}

// parsed is the outcome of one file.
type parsed struct {
	shard *shard.Shard
	gap   *schemas.CoverageGap
}

// Build parses files concurrently into a graph database. A file that cannot
// be parsed is left out and recorded as a coverage gap; only cancellation of
// ctx fails the build. Shards are added in path order.
func Build(ctx context.Context, files []SourceFile, parser *frontend.Parser, logger *zap.Logger, opts BuildOptions) (*shard.DB, []schemas.CoverageGap, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("discovery")
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	results := make([]parsed, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := parseOne(gctx, parser, f, opts.ParseTimeout)
			if res.gap != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	db := shard.NewDB()
	var gaps []schemas.CoverageGap
	for i, res := range results {
		if res.gap != nil {
			logger.Debug("File skipped", zap.String("path", files[i].Path), zap.String("reason", string(res.gap.Reason)))
			gaps = append(gaps, *res.gap)
			continue
		}
		if err := db.Add(res.shard); err != nil {
			return nil, nil, err
		}
	}
	logger.Info("Parsed source files", zap.Int("files", db.Len()), zap.Int("skipped", len(gaps)))
	return db, gaps, nil
}

func parseOne(ctx context.Context, parser *frontend.Parser, f SourceFile, timeout time.Duration) parsed {
	gap := func(reason schemas.GapReason, detail string) parsed {
		return parsed{gap: &schemas.CoverageGap{Path: f.Path, Reason: reason, Detail: detail}}
	}
	if !f.Supported() {
		return gap(schemas.GapUnsupportedLanguage, "")
	}
	if f.Content == nil && f.Size > 0 {
		return gap(schemas.GapParseFailure, fmt.Sprintf("%s: %d bytes", frontend.ErrFileTooLarge, f.Size))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	sh, err := parser.ParseAs(ctx, f.Path, f.Language, f.Content)
	switch {
	case err == nil:
		return parsed{shard: sh}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return gap(schemas.GapTimeout, "parse timed out")
	case errors.Is(err, frontend.ErrUnsupportedLanguage):
		return gap(schemas.GapUnsupportedLanguage, "")
	default:
		return gap(schemas.GapParseFailure, err.Error())
	}
}
