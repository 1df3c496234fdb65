// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables PersistReport writes to. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      UUID PRIMARY KEY,
    root        TEXT NOT NULL,
    revision    TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    rules       TEXT[] NOT NULL,
    files       INTEGER NOT NULL,
    steps       BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS vulnerabilities (
    run_id      UUID NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
    rule_id     TEXT NOT NULL,
    kind        TEXT NOT NULL,
    path        TEXT NOT NULL,
    line        INTEGER NOT NULL,
    col         INTEGER NOT NULL,
    node_id     INTEGER NOT NULL,
    cwe         TEXT[] NOT NULL,
    description TEXT NOT NULL,
    snippet     TEXT NOT NULL,
    PRIMARY KEY (run_id, rule_id, path, node_id)
);
CREATE TABLE IF NOT EXISTS coverage_gaps (
    run_id  UUID NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
    path    TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    reason  TEXT NOT NULL,
    detail  TEXT NOT NULL
);
`

var (
	vulnerabilityColumns = []string{"run_id", "rule_id", "kind", "path", "line", "col", "node_id", "cwe", "description", "snippet"}
	gapColumns           = []string{"run_id", "path", "rule_id", "reason", "detail"}
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Store persists scan reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the result tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistReport writes the run header, its vulnerabilities and its coverage
// gaps in one transaction.
func (s *Store) PersistReport(ctx context.Context, report *schemas.Report) error {
	if report == nil || report.RunID == "" {
		return errors.New("report must have a run id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rules := report.Rules
	if rules == nil {
		rules = []string{}
	}
	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.Root, report.Revision,
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
		rules, report.Files, report.Steps,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	if len(report.Vulnerabilities) > 0 {
		if err := s.persistVulnerabilities(ctx, tx, report.RunID, report.Vulnerabilities); err != nil {
			return err
		}
	}
	if len(report.Gaps) > 0 {
		if err := s.persistGaps(ctx, tx, report.RunID, report.Gaps); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Persisted report",
		zap.String("run_id", report.RunID),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)),
		zap.Int("gaps", len(report.Gaps)))
	return nil
}

const sqlInsertRun = `
        INSERT INTO runs (run_id, root, revision, started_at, finished_at, rules, files, steps)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

func (s *Store) persistVulnerabilities(ctx context.Context, tx pgx.Tx, runID string, vulns []schemas.Vulnerability) error {
	rows := make([][]interface{}, len(vulns))
	for i, v := range vulns {
		cwe := v.CWE
		if cwe == nil {
			cwe = []string{}
		}
		rows[i] = []interface{}{
			runID, v.RuleID, v.Kind, v.Path,
			v.Line, v.Column, v.NodeID,
			cwe, v.Description, v.Snippet,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"vulnerabilities"}, vulnerabilityColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy vulnerabilities: %w", err)
	}
	if int(copyCount) != len(vulns) {
		return fmt.Errorf("mismatch in copied vulnerabilities count: expected %d, got %d", len(vulns), copyCount)
	}
	return nil
}

func (s *Store) persistGaps(ctx context.Context, tx pgx.Tx, runID string, gaps []schemas.CoverageGap) error {
	rows := make([][]interface{}, len(gaps))
	for i, g := range gaps {
		rows[i] = []interface{}{runID, g.Path, g.RuleID, string(g.Reason), g.Detail}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"coverage_gaps"}, gapColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy coverage gaps: %w", err)
	}
	if int(copyCount) != len(gaps) {
		return fmt.Errorf("mismatch in copied coverage gaps count: expected %d, got %d", len(gaps), copyCount)
	}
	return nil
}

// GetVulnerabilitiesByRunID returns the vulnerabilities of one run in report
// order.
func (s *Store) GetVulnerabilitiesByRunID(ctx context.Context, runID string) ([]schemas.Vulnerability, error) {
	query := `
        SELECT rule_id, kind, path, line, col, node_id, cwe, description, snippet
        FROM vulnerabilities
        WHERE run_id = $1
        ORDER BY path ASC, node_id ASC, rule_id ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vulnerabilities: %w", err)
	}
	defer rows.Close()

	var vulns []schemas.Vulnerability
	for rows.Next() {
		var v schemas.Vulnerability
		err := rows.Scan(&v.RuleID, &v.Kind, &v.Path, &v.Line, &v.Column, &v.NodeID, &v.CWE, &v.Description, &v.Snippet)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vulnerability row: %w", err)
		}
		vulns = append(vulns, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return vulns, nil
}

// GetCoverageGapsByRunID returns the coverage gaps of one run.
func (s *Store) GetCoverageGapsByRunID(ctx context.Context, runID string) ([]schemas.CoverageGap, error) {
	query := `
        SELECT path, rule_id, reason, detail
        FROM coverage_gaps
        WHERE run_id = $1
        ORDER BY path ASC, rule_id ASC, reason ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage gaps: %w", err)
	}
	defer rows.Close()

	var gaps []schemas.CoverageGap
	for rows.Next() {
		var (
			g      schemas.CoverageGap
			reason string
		)
		if err := rows.Scan(&g.Path, &g.RuleID, &reason, &g.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan coverage gap row: %w", err)
		}
		g.Reason = schemas.GapReason(reason)
		gaps = append(gaps, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return gaps, nil
}

// GetReport rebuilds the report of a persisted run.
func (s *Store) GetReport(ctx context.Context, runID string) (*schemas.Report, error) {
	query := `
        SELECT root, revision, started_at, finished_at, rules, files, steps
        FROM runs
        WHERE run_id = $1;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	report := &schemas.Report{RunID: runID}
	found := false
	for rows.Next() {
		found = true
		err := rows.Scan(&report.Root, &report.Revision, &report.StartedAt, &report.FinishedAt, &report.Rules, &report.Files, &report.Steps)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if report.Vulnerabilities, err = s.GetVulnerabilitiesByRunID(ctx, runID); err != nil {
		return nil, err
	}
	if report.Gaps, err = s.GetCoverageGapsByRunID(ctx, runID); err != nil {
		return nil, err
	}
	if report.Vulnerabilities == nil {
		report.Vulnerabilities = []schemas.Vulnerability{}
	}
	if report.Gaps == nil {
		report.Gaps = []schemas.CoverageGap{}
	}
	return report, nil
}
