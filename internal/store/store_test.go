package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts any timestamp already converted to UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	t, ok := v.(time.Time)
	return ok && t.Location() == time.UTC
})

// -- Test Helpers --

func newStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleReport() *schemas.Report {
	loc := time.FixedZone("EST", -5*60*60)
	return &schemas.Report{
		RunID:      "8d3e55c6-0a8b-4b33-9d0a-6a4c9c8c0f11",
		Root:       "/src/app",
		StartedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, loc),
		FinishedAt: time.Date(2026, 3, 1, 10, 0, 5, 0, loc),
		Rules:      []string{"F001"},
		Files:      2,
		Steps:      420,
		Vulnerabilities: []schemas.Vulnerability{{
			RuleID: "F001", Kind: "lines", Path: "src/Servlet.java",
			Line: 4, Column: 5, NodeID: 37, CWE: []string{"89"},
			Description: "SQL injection", Snippet: `st.executeQuery("SELECT " + id);`,
		}},
		Gaps: []schemas.CoverageGap{{Path: "web/app.js", RuleID: "F001", Reason: schemas.GapTimeout}},
	}
}

func expectRunInsert(mockPool pgxmock.PgxPoolIface, r *schemas.Report) *pgxmock.ExpectedExec {
	return mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(r.RunID, r.Root, r.Revision, utcTime, utcTime, r.Rules, r.Files, r.Steps)
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS runs")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistReport(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full report without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newStore(t, zap.New(observedZapCore))
		report := sampleReport()

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"vulnerabilities"}, vulnerabilityColumns).WillReturnResult(1)
		mockPool.ExpectCopyFrom(pgx.Identifier{"coverage_gaps"}, gapColumns).WillReturnResult(1)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should skip copies for a clean run", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		report := sampleReport()
		report.Vulnerabilities = nil
		report.Gaps = nil

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.PersistReport(ctx, report))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a report without run id", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		assert.Error(t, s.PersistReport(ctx, &schemas.Report{}))
		assert.Error(t, s.PersistReport(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.PersistReport(ctx, sampleReport())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if copying vulnerabilities fails", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		report := sampleReport()
		copyErr := errors.New("copy from failed")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"vulnerabilities"}, vulnerabilityColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.PersistReport(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on a short copy", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		report := sampleReport()
		report.Vulnerabilities = nil

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"coverage_gaps"}, gapColumns).WillReturnResult(0)
		mockPool.ExpectRollback()

		err := s.PersistReport(ctx, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied coverage gaps count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if the run insert fails", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		report := sampleReport()
		insertErr := errors.New("duplicate key")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, report).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.PersistReport(ctx, report)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetVulnerabilitiesByRunID(t *testing.T) {
	ctx := context.Background()
	runID := sampleReport().RunID

	t.Run("should retrieve vulnerabilities successfully", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())

		columns := []string{"rule_id", "kind", "path", "line", "col", "node_id", "cwe", "description", "snippet"}
		rows := pgxmock.NewRows(columns).
			AddRow("F001", "lines", "src/Servlet.java", 4, 5, 37, []string{"89"}, "SQL injection", "st.executeQuery(q);").
			AddRow("F004", "lines", "src/Servlet.java", 6, 5, 52, []string{"78"}, "OS command injection", "rt.exec(id);")

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM vulnerabilities")).
			WithArgs(runID).
			WillReturnRows(rows)

		vulns, err := s.GetVulnerabilitiesByRunID(ctx, runID)
		require.NoError(t, err)
		require.Len(t, vulns, 2)
		assert.Equal(t, schemas.Vulnerability{
			RuleID: "F001", Kind: "lines", Path: "src/Servlet.java",
			Line: 4, Column: 5, NodeID: 37, CWE: []string{"89"},
			Description: "SQL injection", Snippet: "st.executeQuery(q);",
		}, vulns[0])
		assert.Equal(t, "F004", vulns[1].RuleID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query errors", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery(regexp.QuoteMeta("FROM vulnerabilities")).
			WithArgs(runID).
			WillReturnError(queryErr)

		_, err := s.GetVulnerabilitiesByRunID(ctx, runID)
		assert.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetCoverageGapsByRunID(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	runID := sampleReport().RunID

	rows := pgxmock.NewRows([]string{"path", "rule_id", "reason", "detail"}).
		AddRow("lib/big.py", "", "parse_failure", "syntax error at 3:1")
	mockPool.ExpectQuery(regexp.QuoteMeta("FROM coverage_gaps")).
		WithArgs(runID).
		WillReturnRows(rows)

	gaps, err := s.GetCoverageGapsByRunID(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, []schemas.CoverageGap{{
		Path: "lib/big.py", Reason: schemas.GapParseFailure, Detail: "syntax error at 3:1",
	}}, gaps)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetReport(t *testing.T) {
	ctx := context.Background()
	want := sampleReport()
	runColumns := []string{"root", "revision", "started_at", "finished_at", "rules", "files", "steps"}

	t.Run("should rebuild a persisted run", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		started, finished := want.StartedAt.UTC(), want.FinishedAt.UTC()

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM runs")).
			WithArgs(want.RunID).
			WillReturnRows(pgxmock.NewRows(runColumns).
				AddRow(want.Root, "", started, finished, []string{"F001"}, 2, int64(420)))
		mockPool.ExpectQuery(regexp.QuoteMeta("FROM vulnerabilities")).
			WithArgs(want.RunID).
			WillReturnRows(pgxmock.NewRows([]string{"rule_id", "kind", "path", "line", "col", "node_id", "cwe", "description", "snippet"}))
		mockPool.ExpectQuery(regexp.QuoteMeta("FROM coverage_gaps")).
			WithArgs(want.RunID).
			WillReturnRows(pgxmock.NewRows([]string{"path", "rule_id", "reason", "detail"}).
				AddRow("web/app.js", "F001", "timeout", ""))

		report, err := s.GetReport(ctx, want.RunID)
		require.NoError(t, err)
		assert.Equal(t, want.Root, report.Root)
		assert.True(t, started.Equal(report.StartedAt))
		assert.Equal(t, []string{"F001"}, report.Rules)
		assert.Equal(t, 2, report.Files)
		assert.Equal(t, int64(420), report.Steps)
		assert.NotNil(t, report.Vulnerabilities)
		assert.Empty(t, report.Vulnerabilities)
		assert.Equal(t, want.Gaps, report.Gaps)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report an unknown run", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		mockPool.ExpectQuery(regexp.QuoteMeta("FROM runs")).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(runColumns))

		_, err := s.GetReport(ctx, "missing")
		assert.ErrorIs(t, err, ErrRunNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
