// Package data implements the engine's Postgres and Redis persistence.
package data

import (
	"database/sql"
	"log/slog"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/queue"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger *slog.Logger
	// Router maps job types to the queue channel notified on insert. Defaults to the production table.
	Router *queue.Router
}

// JobRepo is the Postgres job store. It implements core.JobStore.
type JobRepo struct {
	DB     *sql.DB
	router *queue.Router
	logger *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	router := cfg.Router
	if router == nil {
		router = queue.MustDefaultRouter()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{
		DB:     db,
		router: router,
		logger: logger.With("component", "job_repo"),
	}
}

var _ core.JobStore = (*JobRepo)(nil)

const jobColumns = `
  id,
  type,
  priority,
  status,
  subject_id,
  group_id,
  input,
  output,
  failure,
  attempt,
  max_attempts,
  last_error,
  scheduled_at,
  lease_expires_at,
  started_at,
  completed_at,
  duration_ms,
  version,
  created_at,
  updated_at
`

// NotifyChannel is the LISTEN/NOTIFY channel that wakes workers of queue.
func NotifyChannel(q string) string {
	return "job_queue_" + q
}
