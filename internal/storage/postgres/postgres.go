// Package postgres provides the Postgres-backed store implementation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vilca-glitch/shopify/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of pgxpool.Pool used by the store; pgxmock satisfies
// it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool dbPool
}

// New creates a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id UUID PRIMARY KEY,
	target_url TEXT NOT NULL,
	target_slug TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	total_pages INT NOT NULL DEFAULT 0,
	current_page INT NOT NULL DEFAULT 0,
	total_reviews_found INT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS reviews (
	content_hash TEXT PRIMARY KEY,
	job_id UUID NOT NULL REFERENCES scrape_jobs(id) ON DELETE CASCADE,
	reviewer_name TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	usage_time TEXT NOT NULL DEFAULT '',
	star_rating INT NOT NULL,
	review_content TEXT NOT NULL DEFAULT '',
	review_date TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS reviews_job_id_idx ON reviews (job_id);
CREATE TABLE IF NOT EXISTS recurring_agents (
	id UUID PRIMARY KEY,
	target_url TEXT NOT NULL,
	target_slug TEXT NOT NULL,
	run_day INT NOT NULL,
	webhook_url TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	last_run_at TIMESTAMPTZ,
	last_run_status TEXT NOT NULL DEFAULT '',
	last_run_message TEXT NOT NULL DEFAULT '',
	last_reviews_pushed INT NOT NULL DEFAULT 0
);
`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job store.ScrapeJob) error {
	query := `
INSERT INTO scrape_jobs (id, target_url, target_slug, status, created_at)
VALUES ($1, $2, $3, $4, $5)`
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := job.Status
	if status == "" {
		status = store.JobPending
	}
	if _, err := s.pool.Exec(ctx, query, job.ID, job.TargetURL, job.TargetSlug, status, createdAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (store.ScrapeJob, error) {
	query := `
SELECT id, target_url, target_slug, status, total_pages, current_page,
	total_reviews_found, error_message, created_at, started_at, completed_at
FROM scrape_jobs WHERE id = $1`
	var job store.ScrapeJob
	var status string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.TargetURL, &job.TargetSlug, &status, &job.TotalPages,
		&job.CurrentPage, &job.TotalReviewsFound, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ScrapeJob{}, store.ErrNotFound
	}
	if err != nil {
		return store.ScrapeJob{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = store.JobStatus(status)
	return job, nil
}

// PurgeJobsForURL deletes prior jobs for the target URL; reviews cascade.
func (s *Store) PurgeJobsForURL(ctx context.Context, targetURL, keepJobID string) (int, error) {
	query := `DELETE FROM scrape_jobs WHERE target_url = $1 AND id <> $2`
	tag, err := s.pool.Exec(ctx, query, targetURL, keepJobID)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkJobRunning transitions a job to running and stamps started_at.
func (s *Store) MarkJobRunning(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE scrape_jobs SET status = $1, started_at = $2 WHERE id = $3`
	return s.execJob(ctx, query, "mark job running", store.JobRunning, at, id)
}

// SetJobProgress checkpoints the crawl position and review tally.
func (s *Store) SetJobProgress(ctx context.Context, id string, totalPages, currentPage, totalReviews int) error {
	query := `
UPDATE scrape_jobs
SET total_pages = $1, current_page = $2, total_reviews_found = $3
WHERE id = $4`
	return s.execJob(ctx, query, "set job progress", totalPages, currentPage, totalReviews, id)
}

// CompleteJob marks the job completed with the final dedup count.
func (s *Store) CompleteJob(ctx context.Context, id string, at time.Time, totalPages, totalReviews int) error {
	query := `
UPDATE scrape_jobs
SET status = $1, completed_at = $2, total_pages = $3, current_page = $3, total_reviews_found = $4
WHERE id = $5`
	return s.execJob(ctx, query, "complete job", store.JobCompleted, at, totalPages, totalReviews, id)
}

// FailJob marks the job failed with a human-readable message.
func (s *Store) FailJob(ctx context.Context, id string, at time.Time, message string) error {
	query := `UPDATE scrape_jobs SET status = $1, completed_at = $2, error_message = $3 WHERE id = $4`
	return s.execJob(ctx, query, "fail job", store.JobFailed, at, message, id)
}

func (s *Store) execJob(ctx context.Context, query, op string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// InsertReviews inserts reviews keyed by content_hash; existing hashes are
// silently skipped so overlapping pages never error.
func (s *Store) InsertReviews(ctx context.Context, reviews []store.Review) (int, error) {
	query := `
INSERT INTO reviews (content_hash, job_id, reviewer_name, location, usage_time,
	star_rating, review_content, review_date, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (content_hash) DO NOTHING`
	inserted := 0
	for _, r := range reviews {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		tag, err := s.pool.Exec(ctx, query,
			r.ContentHash, r.JobID, r.ReviewerName, r.Location, r.UsageTime,
			r.StarRating, r.ReviewContent, r.ReviewDate, createdAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert review: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// CountReviews returns the exact deduplicated row count for a job.
func (s *Store) CountReviews(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE job_id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return count, nil
}

// ListReviews returns all reviews for a job.
func (s *Store) ListReviews(ctx context.Context, jobID string) ([]store.Review, error) {
	query := `
SELECT content_hash, job_id, reviewer_name, location, usage_time,
	star_rating, review_content, review_date, created_at
FROM reviews WHERE job_id = $1 ORDER BY created_at, content_hash`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []store.Review
	for rows.Next() {
		var r store.Review
		if err := rows.Scan(
			&r.ContentHash, &r.JobID, &r.ReviewerName, &r.Location, &r.UsageTime,
			&r.StarRating, &r.ReviewContent, &r.ReviewDate, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return out, nil
}

// GetAgent loads an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (store.RecurringAgent, error) {
	query := agentSelect + ` WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.RecurringAgent{}, store.ErrNotFound
	}
	if err != nil {
		return store.RecurringAgent{}, fmt.Errorf("select agent: %w", err)
	}
	return agent, nil
}

// ListDueAgents returns active agents whose run_day equals runDay.
func (s *Store) ListDueAgents(ctx context.Context, runDay int) ([]store.RecurringAgent, error) {
	query := agentSelect + ` WHERE status = $1 AND run_day = $2 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, store.AgentActive, runDay)
	if err != nil {
		return nil, fmt.Errorf("list due agents: %w", err)
	}
	defer rows.Close()

	var out []store.RecurringAgent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due agents: %w", err)
	}
	return out, nil
}

// RecordAgentOutcome writes the post-run bookkeeping for an agent.
func (s *Store) RecordAgentOutcome(ctx context.Context, id string, outcome store.AgentOutcome) error {
	query := `
UPDATE recurring_agents
SET last_run_at = $1, last_run_status = $2, last_run_message = $3, last_reviews_pushed = $4
WHERE id = $5`
	return s.execJob(ctx, query, "record agent outcome",
		outcome.RunAt, outcome.Status, outcome.Message, outcome.ReviewsPushed, id)
}

const agentSelect = `
SELECT id, target_url, target_slug, run_day, webhook_url, status,
	last_run_at, last_run_status, last_run_message, last_reviews_pushed
FROM recurring_agents`

func scanAgent(row pgx.Row) (store.RecurringAgent, error) {
	var agent store.RecurringAgent
	var status, runStatus string
	err := row.Scan(
		&agent.ID, &agent.TargetURL, &agent.TargetSlug, &agent.RunDay,
		&agent.WebhookURL, &status, &agent.LastRunAt, &runStatus,
		&agent.LastRunMessage, &agent.LastReviewsPushed,
	)
	if err != nil {
		return store.RecurringAgent{}, err
	}
	agent.Status = store.AgentStatus(status)
	agent.LastRunStatus = store.RunStatus(runStatus)
	return agent, nil
}
