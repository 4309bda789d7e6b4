// Package sqlitestore persists jobs, groups and rules in an embedded SQLite database.
// It targets single-node deployments: one writer connection serialises every transition.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Register the sqlite3 driver for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/job"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/queue"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_groups (
  id           TEXT PRIMARY KEY,
  subject_id   TEXT,
  trigger      TEXT NOT NULL,
  degraded     INTEGER NOT NULL DEFAULT 0,
  created_at   INTEGER NOT NULL,
  finalized_at INTEGER
);

CREATE TABLE IF NOT EXISTS jobs (
  id               TEXT PRIMARY KEY,
  type             TEXT NOT NULL,
  priority         INTEGER NOT NULL CHECK (priority IN (1, 5, 10, 20)),
  status           TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','RETRYING','COMPLETED','FAILED','CANCELLED')),
  subject_id       TEXT,
  group_id         TEXT REFERENCES job_groups(id) ON DELETE SET NULL,
  input            TEXT NOT NULL DEFAULT '{}',
  output           TEXT,
  failure          TEXT,
  attempt          INTEGER NOT NULL DEFAULT 0,
  max_attempts     INTEGER NOT NULL CHECK (max_attempts >= 1),
  last_error       TEXT,
  scheduled_at     INTEGER NOT NULL,
  lease_expires_at INTEGER,
  started_at       INTEGER,
  completed_at     INTEGER,
  duration_ms      INTEGER,
  version          INTEGER NOT NULL DEFAULT 1,
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL,
  CHECK (attempt <= max_attempts)
);

CREATE INDEX IF NOT EXISTS jobs_claim_idx   ON jobs (status, type, priority DESC, created_at, id);
CREATE INDEX IF NOT EXISTS jobs_group_idx   ON jobs (group_id);
CREATE INDEX IF NOT EXISTS jobs_subject_idx ON jobs (subject_id, status);
CREATE INDEX IF NOT EXISTS jobs_lease_idx   ON jobs (lease_expires_at) WHERE status = 'PROCESSING';

CREATE TABLE IF NOT EXISTS rules (
  id                TEXT PRIMARY KEY,
  name              TEXT NOT NULL,
  description       TEXT NOT NULL DEFAULT '',
  type              TEXT NOT NULL,
  severity          TEXT NOT NULL,
  risk_score_impact INTEGER NOT NULL,
  status            TEXT NOT NULL DEFAULT 'ACTIVE',
  violation         TEXT NOT NULL,
  pass_message      TEXT NOT NULL DEFAULT '',
  fail_message      TEXT NOT NULL DEFAULT '',
  recommendation    TEXT NOT NULL DEFAULT '',
  created_at        INTEGER NOT NULL,
  updated_at        INTEGER NOT NULL
);
`

// Options configure Open.
type Options struct {
	Logger *slog.Logger
	Router *queue.Router
	// SkipRuleCatalog leaves the rules table untouched instead of seeding the built-in catalog.
	SkipRuleCatalog bool
}

// Store implements core.JobStore and core.RuleRepository on SQLite.
type Store struct {
	DB      *sql.DB
	router  *queue.Router
	logger  *slog.Logger
	signals *queue.Broadcaster
}

var (
	_ core.JobStore       = (*Store)(nil)
	_ core.RuleRepository = (*Store)(nil)
	_ job.Waiter          = (*Store)(nil)
)

// Open opens (or creates) the database at path, applies the schema and seeds the rule catalog.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := opts.Router
	if router == nil {
		router = queue.MustDefaultRouter()
	}
	s := &Store{
		DB:      db,
		router:  router,
		logger:  logger.With("component", "sqlite_store"),
		signals: queue.NewBroadcaster(),
	}
	if !opts.SkipRuleCatalog {
		for _, rule := range rules.DefaultCatalog() {
			if err := s.UpsertRule(ctx, rule); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("seed rule %s: %w", rule.ID, err)
			}
		}
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.DB.Close() }

const insertJobSQL = `INSERT INTO jobs (` + jobColumns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// Create inserts job and wakes the workers of its queue.
func (s *Store) Create(ctx context.Context, j *model.Job) error {
	if j == nil {
		return errors.New("job is required")
	}
	route, err := s.router.Route(j.Type)
	if err != nil {
		return err
	}
	args, err := insertArgs(j)
	if err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, insertJobSQL, args...); err != nil {
		return fmt.Errorf("insert job: %w", mapError(err))
	}
	s.signals.Signal(route.Queue)
	return nil
}

// GetByID retrieves a job by id.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Update writes the mutable fields of j if the stored version still equals expectedVersion.
func (s *Store) Update(ctx context.Context, j *model.Job, expectedVersion int64) error {
	if j == nil {
		return errors.New("job is required")
	}
	failure, err := encodeFailure(j.Failure)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, output = ?, failure = ?, attempt = ?, last_error = ?, scheduled_at = ?,
		    lease_expires_at = ?, started_at = ?, completed_at = ?, duration_ms = ?, updated_at = ?,
		    version = version + 1
		WHERE id = ? AND version = ?`,
		string(j.Status), nullableText(j.Output), failure, j.Attempt, j.LastError, millis(j.ScheduledAt),
		millisPtr(j.LeaseExpiresAt), millisPtr(j.StartedAt), millisPtr(j.CompletedAt), j.DurationMs,
		millis(j.UpdatedAt), j.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id = ?`, j.ID).Scan(&exists); err != nil {
			return fmt.Errorf("re-check job after update: %w", err)
		}
		if exists == 0 {
			return model.ErrJobNotFound
		}
		return apperrors.ErrConcurrencyConflict
	}
	j.Version = expectedVersion + 1
	return nil
}

// ClaimNext promotes due retries and reserves the next job of the given types.
func (s *Store) ClaimNext(ctx context.Context, params core.ClaimParams) (*model.Job, error) {
	if len(params.Types) == 0 {
		return nil, model.ErrNoJobsAvailable
	}
	in, typeArgs := inClause(params.Types)
	now := millis(params.Now)
	lease := millis(params.Now.Add(params.Lease))

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	promoteArgs := append([]any{now, now}, typeArgs...)
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'PENDING', updated_at = ?, version = version + 1
		WHERE status = 'RETRYING' AND scheduled_at <= ? AND type IN (`+in+`)`, promoteArgs...); err != nil {
		return nil, fmt.Errorf("promote retrying jobs: %w", err)
	}

	claimArgs := append([]any{now, lease, now}, typeArgs...)
	claimArgs = append(claimArgs, now)
	row := tx.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'PROCESSING',
		    started_at = COALESCE(started_at, ?),
		    lease_expires_at = ?,
		    updated_at = ?,
		    version = version + 1
		WHERE id = (
		  SELECT id FROM jobs
		  WHERE status = 'PENDING' AND type IN (`+in+`) AND scheduled_at <= ?
		  ORDER BY priority DESC, created_at ASC, id ASC
		  LIMIT 1
		)
		RETURNING `+jobColumns, claimArgs...)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		if cerr := tx.Commit(); cerr != nil {
			return nil, fmt.Errorf("commit promotion: %w", cerr)
		}
		return nil, model.ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return j, nil
}

// Heartbeat extends the lease of a PROCESSING job still on attempt and bumps its version.
func (s *Store) Heartbeat(ctx context.Context, id string, attempt int, leaseExpiresAt time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = 'PROCESSING' AND attempt = ?`,
		millis(leaseExpiresAt), millis(time.Now()), id, attempt)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// WaitForNotification blocks until a job is inserted for queue q by this process or ctx ends.
func (s *Store) WaitForNotification(ctx context.Context, q model.QueueName) error {
	return s.signals.Wait(ctx, q)
}

func inClause(types []model.JobType) (string, []any) {
	marks := make([]string, len(types))
	args := make([]any, len(types))
	for i, t := range types {
		marks[i] = "?"
		args[i] = string(t)
	}
	return strings.Join(marks, ","), args
}
