// File: internal/engine/engine.go
// Package engine prepares shards and evaluates every rule over them with a
// bounded worker pool. Each shard and each (rule, shard) pair is a bulkhead:
// a timeout, budget overrun or panic there becomes a coverage gap and never
// aborts the rest of the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/eval"
	"github.com/xkilldash9x/scalpel-sast/internal/lang"
	"github.com/xkilldash9x/scalpel-sast/internal/marker"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/query"
	"github.com/xkilldash9x/scalpel-sast/internal/rules"
	"github.com/xkilldash9x/scalpel-sast/internal/shard"
)

// defaultConcurrency is used when the configuration leaves it unset.
const defaultConcurrency = 4

// Engine runs the analysis pipeline after parsing.
type Engine struct {
	cfg     config.Interface
	logger  *zap.Logger
	catalog *rules.Catalog
	langs   *lang.Set
	metrics *observability.Metrics

	// prepare and evaluate are the per-shard and per-pair units of work.
	prepare  func(sh *shard.Shard) error
	evaluate func(ctx context.Context, db *shard.DB, rule *rules.Rule, sh *shard.Shard) ([]schemas.Vulnerability, int, error)
}

// New creates an engine. Building the language registries here surfaces any
// overlapping reader or walker claims before work starts. metrics may be nil.
func New(cfg config.Interface, logger *zap.Logger, catalog *rules.Catalog, metrics *observability.Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if catalog == nil {
		return nil, errors.New("rule catalog cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	langs, err := lang.NewSet()
	if err != nil {
		return nil, fmt.Errorf("building language support: %w", err)
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logger.Named("engine"),
		catalog: catalog,
		langs:   langs,
		metrics: metrics,
	}
	e.prepare = e.prepareShard
	e.evaluate = e.evaluatePair
	return e, nil
}

func (e *Engine) concurrency() int {
	if n := e.cfg.Engine().WorkerConcurrency; n > 0 {
		return n
	}
	return defaultConcurrency
}

func (e *Engine) budget() eval.Budget {
	ec := e.cfg.Engine()
	return eval.Budget{MaxSteps: ec.MaxSteps, MaxPaths: ec.MaxPaths, MaxCallDepth: ec.MaxCallDepth}
}

// Prepare lowers, links, extracts metadata and marks every shard of db
// concurrently. It returns a new, indexed database holding the shards that
// prepared cleanly, plus a gap for every shard that did not. Marking of every
// shard completes before Prepare returns.
func (e *Engine) Prepare(ctx context.Context, db *shard.DB) (*shard.DB, []schemas.CoverageGap, error) {
	shards := db.Shards()
	failed := make([]error, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i, sh := range shards {
		i, sh := i, sh
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			failed[i] = e.safely(sh.Path, "", func() error { return e.prepare(sh) })
			outcome := "ok"
			if failed[i] != nil {
				outcome = string(schemas.GapInternalError)
			}
			e.metrics.FilePrepared(outcome, time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := shard.NewDB()
	var gaps []schemas.CoverageGap
	for i, sh := range shards {
		if failed[i] != nil {
			e.logger.Warn("Shard preparation failed, skipping file", zap.String("path", sh.Path), zap.Error(failed[i]))
			gaps = append(gaps, schemas.CoverageGap{Path: sh.Path, Reason: schemas.GapInternalError, Detail: failed[i].Error()})
			e.metrics.Gap(string(schemas.GapInternalError))
			continue
		}
		if err := out.Add(sh); err != nil {
			return nil, nil, err
		}
	}
	out.BuildIndex()
	e.logger.Info("Prepared shards", zap.Int("prepared", out.Len()), zap.Int("failed", len(gaps)))
	return out, gaps, nil
}

func (e *Engine) prepareShard(sh *shard.Shard) error {
	if sh.Prepared() {
		return nil
	}
	if err := e.langs.Prepare(sh, e.logger); err != nil {
		return err
	}
	return marker.Mark(sh, e.catalog)
}

// pairResult is the outcome of one rule over one shard.
type pairResult struct {
	vulns []schemas.Vulnerability
	gap   *schemas.CoverageGap
	steps int
}

// Run evaluates the selected rules (every rule when ruleIDs is empty) over
// the prepared shards of db. Only cancellation of ctx or an unknown rule id
// fails the run; everything else is reported in the returned report.
func (e *Engine) Run(ctx context.Context, db *shard.DB, ruleIDs []string) (*schemas.Report, error) {
	ids, err := e.catalog.Select(ruleIDs)
	if err != nil {
		return nil, err
	}
	report := &schemas.Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Rules:     ids,
		Files:     db.Len(),
	}

	type pair struct {
		rule  *rules.Rule
		shard *shard.Shard
	}
	var pairs []pair
	for _, id := range ids {
		rule, _ := e.catalog.Rule(id)
		for _, sh := range db.Shards() {
			if _, ok := rule.Profile(sh.Language); ok {
				pairs = append(pairs, pair{rule, sh})
			}
		}
	}
	e.logger.Info("Evaluating rules", zap.String("run_id", report.RunID), zap.Strings("rules", ids), zap.Int("pairs", len(pairs)))

	results := make([]pairResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := e.runPair(gctx, db, p.rule, p.shard)
			if res.gap != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		report.Vulnerabilities = append(report.Vulnerabilities, res.vulns...)
		report.Steps += int64(res.steps)
		if res.gap != nil {
			report.Gaps = append(report.Gaps, *res.gap)
		}
	}
	report.Vulnerabilities = query.Dedupe(report.Vulnerabilities)
	if report.Vulnerabilities == nil {
		report.Vulnerabilities = []schemas.Vulnerability{}
	}
	if report.Gaps == nil {
		report.Gaps = []schemas.CoverageGap{}
	}
	report.Sort()
	report.FinishedAt = time.Now().UTC()
	e.logger.Info("Evaluation complete",
		zap.String("run_id", report.RunID),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)),
		zap.Int("gaps", len(report.Gaps)),
		zap.Int64("steps", report.Steps),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// Analyze prepares db and runs the selected rules, merging preparation gaps
// into the report.
func (e *Engine) Analyze(ctx context.Context, db *shard.DB, ruleIDs []string) (*schemas.Report, error) {
	prepared, gaps, err := e.Prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	report, err := e.Run(ctx, prepared, ruleIDs)
	if err != nil {
		return nil, err
	}
	report.Gaps = append(report.Gaps, gaps...)
	report.Sort()
	return report, nil
}

// runPair evaluates one rule over one shard inside its own bulkhead.
func (e *Engine) runPair(ctx context.Context, db *shard.DB, rule *rules.Rule, sh *shard.Shard) pairResult {
	logger := e.logger.With(zap.String("rule", rule.ID), zap.String("path", sh.Path))
	timeout := e.cfg.Engine().PairTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		vulns []schemas.Vulnerability
		steps int
	)
	err := e.safely(sh.Path, rule.ID, func() error {
		var err error
		vulns, steps, err = e.evaluate(ctx, db, rule, sh)
		return err
	})
	e.metrics.PairEvaluated(rule.ID, int64(steps), len(vulns), time.Since(start))
	if err == nil {
		if len(vulns) > 0 {
			logger.Debug("Rule matched", zap.Int("vulnerabilities", len(vulns)))
		}
		return pairResult{vulns: vulns, steps: steps}
	}

	gap, ok := query.Gap(sh.Path, rule.ID, err)
	if !ok {
		gap = schemas.CoverageGap{Path: sh.Path, RuleID: rule.ID, Reason: schemas.GapInternalError, Detail: err.Error()}
	}
	logger.Warn("Rule evaluation incomplete", zap.String("reason", string(gap.Reason)), zap.Error(err))
	e.metrics.Gap(string(gap.Reason))
	return pairResult{vulns: vulns, gap: &gap, steps: steps}
}

func (e *Engine) evaluatePair(ctx context.Context, db *shard.DB, rule *rules.Rule, sh *shard.Shard) ([]schemas.Vulnerability, int, error) {
	return query.Shard(ctx, db, e.catalog, rule, sh, query.Options{Budget: e.budget()})
}

// safely runs fn, converting a panic into an error so one bad file cannot
// take down the worker pool.
func (e *Engine) safely(path, rule string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic",
				zap.String("path", path),
				zap.String("rule", rule),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
