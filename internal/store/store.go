// Package store declares the durable job/review/agent persistence contract.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// JobStatus mirrors the scrape_jobs status column.
type JobStatus string

// Job statuses persisted in scrape_jobs.status.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status absorbs further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ScrapeJob models one crawl attempt against one target URL.
type ScrapeJob struct {
	ID                string
	TargetURL         string
	TargetSlug        string
	Status            JobStatus
	TotalPages        int
	CurrentPage       int
	TotalReviewsFound int
	ErrorMessage      string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// Review is one extracted review, owned by exactly one ScrapeJob.
// Absent optional fields are empty strings.
type Review struct {
	JobID         string
	ReviewerName  string
	Location      string
	UsageTime     string
	StarRating    int
	ReviewContent string
	ReviewDate    string
	ContentHash   string
	CreatedAt     time.Time
}

// AgentStatus mirrors the recurring_agents status column.
type AgentStatus string

// Agent statuses persisted in recurring_agents.status.
const (
	AgentActive  AgentStatus = "active"
	AgentPaused  AgentStatus = "paused"
	AgentStopped AgentStatus = "stopped"
)

// RunStatus records the outcome of an agent's last run.
type RunStatus string

// Last-run statuses persisted in recurring_agents.last_run_status.
const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RecurringAgent is a standing subscription: crawl target, weekly run day
// and webhook destination.
type RecurringAgent struct {
	ID                string
	TargetURL         string
	TargetSlug        string
	RunDay            int
	WebhookURL        string
	Status            AgentStatus
	LastRunAt         *time.Time
	LastRunStatus     RunStatus
	LastRunMessage    string
	LastReviewsPushed int
}

// AgentOutcome captures the bookkeeping written back after every run.
type AgentOutcome struct {
	RunAt         time.Time
	Status        RunStatus
	Message       string
	ReviewsPushed int
}

// Store is the durable collaborator shared by stateless crawl invocations.
type Store interface {
	// CreateJob inserts a new job row.
	CreateJob(ctx context.Context, job ScrapeJob) error
	// GetJob loads a job or returns ErrNotFound.
	GetJob(ctx context.Context, id string) (ScrapeJob, error)
	// PurgeJobsForURL deletes prior jobs (and their reviews) for the same
	// target URL, keeping keepJobID. Returns the number of jobs removed.
	PurgeJobsForURL(ctx context.Context, targetURL, keepJobID string) (int, error)
	// MarkJobRunning transitions a job to running and stamps started_at.
	MarkJobRunning(ctx context.Context, id string, at time.Time) error
	// SetJobProgress checkpoints the crawl position and review tally.
	SetJobProgress(ctx context.Context, id string, totalPages, currentPage, totalReviews int) error
	// CompleteJob marks the job completed with the final dedup count.
	CompleteJob(ctx context.Context, id string, at time.Time, totalPages, totalReviews int) error
	// FailJob marks the job failed with a human-readable message.
	FailJob(ctx context.Context, id string, at time.Time, message string) error

	// InsertReviews inserts reviews keyed by content_hash; rows whose hash
	// already exists are silently skipped. Returns the number inserted.
	InsertReviews(ctx context.Context, reviews []Review) (int, error)
	// CountReviews returns the exact deduplicated row count for a job.
	CountReviews(ctx context.Context, jobID string) (int, error)
	// ListReviews returns all reviews persisted for a job.
	ListReviews(ctx context.Context, jobID string) ([]Review, error)

	// GetAgent loads an agent or returns ErrNotFound.
	GetAgent(ctx context.Context, id string) (RecurringAgent, error)
	// ListDueAgents returns active agents whose run_day equals runDay.
	ListDueAgents(ctx context.Context, runDay int) ([]RecurringAgent, error)
	// RecordAgentOutcome writes the post-run bookkeeping for an agent.
	RecordAgentOutcome(ctx context.Context, id string, outcome AgentOutcome) error

	// Close releases any underlying resources.
	Close()
}
