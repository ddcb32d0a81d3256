// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store keeps the history of fix runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// failedStatuses count towards the attempt limit; fixedStatuses reset it.
var (
	failedStatuses = []string{string(autofix.FixFailed), string(autofix.FixRolledBack)}
	fixedStatuses  = []string{string(autofix.FixDeployed), string(autofix.FixVerified), string(autofix.FixPartial)}
)

var resultColumns = []string{
	"run_id", "issue_key", "issue_id", "test_name", "test_file", "severity",
	"status", "level", "branch", "error", "details", "started_at", "duration_ms",
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fix_runs (
    run_id       TEXT PRIMARY KEY,
    started_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ NOT NULL,
    dry_run      BOOLEAN NOT NULL DEFAULT FALSE,
    total_issues INTEGER NOT NULL,
    attempted    INTEGER NOT NULL,
    succeeded    INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    tests_total  INTEGER NOT NULL,
    tests_failed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fix_results (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES fix_runs (run_id) ON DELETE CASCADE,
    issue_key   TEXT NOT NULL,
    issue_id    TEXT NOT NULL,
    test_name   TEXT NOT NULL,
    test_file   TEXT NOT NULL DEFAULT '',
    severity    TEXT NOT NULL,
    status      TEXT NOT NULL,
    level       INTEGER NOT NULL DEFAULT 0,
    branch      TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    details     JSONB NOT NULL DEFAULT '{}',
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS fix_results_issue_key_idx ON fix_results (issue_key, started_at);
`

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

// Open connects to url, creates the tables when missing and returns the store
// together with the pool, which the caller closes.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database url: %w", err)
	}
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the history tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordRun stores a run and its results in one transaction. Recording the
// same run twice replaces the earlier copy.
func (s *Store) RecordRun(ctx context.Context, report *autofix.FixImplementationReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, `
        INSERT INTO fix_runs (run_id, started_at, completed_at, dry_run, total_issues, attempted, succeeded, failed, tests_total, tests_failed)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (run_id) DO UPDATE SET
            completed_at = EXCLUDED.completed_at,
            attempted = EXCLUDED.attempted,
            succeeded = EXCLUDED.succeeded,
            failed = EXCLUDED.failed;
    `,
		report.RunID, report.StartedAt.UTC(), report.CompletedAt.UTC(), report.DryRun,
		report.TotalIssues, report.Attempted, report.Succeeded, report.Failed,
		report.Tests.Total, report.Tests.Failed+report.Tests.TimedOut,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM fix_results WHERE run_id = $1;`, report.RunID); err != nil {
		return fmt.Errorf("failed to clear previous results: %w", err)
	}

	if len(report.Results) > 0 {
		if err := s.persistResults(ctx, tx, report.RunID, report.Results); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Recorded fix run.", zap.String("run_id", report.RunID), zap.Int("results", len(report.Results)))
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, runID string, results []autofix.FixResult) error {
	rows := make([][]interface{}, len(results))
	for i, r := range results {
		details, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode result for %s: %w", r.Issue.ID, err)
		}
		level := 0
		if r.Classification != nil {
			level = r.Classification.Level
		}
		branch := ""
		if r.Implementation != nil {
			branch = r.Implementation.Branch
		}
		rows[i] = []interface{}{
			runID, r.Issue.Key(), r.Issue.ID, r.Issue.TestName, r.Issue.TestFile, string(r.Issue.Severity),
			string(r.Status), level, branch, r.Error, details, r.StartedAt.UTC(), r.Duration.Milliseconds(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"fix_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy results: %w", err)
	}
	if int(copyCount) != len(results) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(results), copyCount)
	}
	return nil
}

// FailedAttempts counts failed and rolled back attempts at issueKey since its
// last successful fix.
func (s *Store) FailedAttempts(ctx context.Context, issueKey string) (int, error) {
	query := `
        SELECT count(*)
        FROM fix_results
        WHERE issue_key = $1
          AND status = ANY($2)
          AND started_at > COALESCE(
              (SELECT max(started_at) FROM fix_results WHERE issue_key = $1 AND status = ANY($3)),
              'epoch'::timestamptz);
    `
	rows, err := s.pool.Query(ctx, query, issueKey, failedStatuses, fixedStatuses)
	if err != nil {
		return 0, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan attempt count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error during row iteration: %w", err)
	}
	return count, nil
}

// Entry is one recorded fix attempt.
type Entry struct {
	RunID     string
	IssueKey  string
	TestName  string
	Severity  autofix.Severity
	Status    autofix.FixStatus
	Level     int
	Branch    string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Recent returns the latest attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
        SELECT run_id, issue_key, test_name, severity, status, level, branch, error, started_at, duration_ms
        FROM fix_results
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var severity, status string
		var durationMS int64

		err := rows.Scan(
			&e.RunID, &e.IssueKey, &e.TestName,
			&severity, &status,
			&e.Level, &e.Branch, &e.Error,
			&e.StartedAt, &durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		e.Severity = autofix.Severity(severity)
		e.Status = autofix.FixStatus(status)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return entries, nil
}
