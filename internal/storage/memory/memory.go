// Package memory provides an in-memory store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vilca-glitch/shopify/internal/store"
)

// Store implements store.Store with mutex-guarded maps.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]store.ScrapeJob
	reviews map[string]store.Review // keyed by content hash
	agents  map[string]store.RecurringAgent
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]store.ScrapeJob),
		reviews: make(map[string]store.Review),
		agents:  make(map[string]store.RecurringAgent),
	}
}

// CreateJob stores a new job row.
func (s *Store) CreateJob(_ context.Context, job store.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (store.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ScrapeJob{}, store.ErrNotFound
	}
	return job, nil
}

// PurgeJobsForURL removes prior jobs for the target URL and their reviews.
func (s *Store) PurgeJobsForURL(_ context.Context, targetURL, keepJobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.TargetURL != targetURL || id == keepJobID {
			continue
		}
		delete(s.jobs, id)
		removed++
		for hash, review := range s.reviews {
			if review.JobID == id {
				delete(s.reviews, hash)
			}
		}
	}
	return removed, nil
}

// MarkJobRunning transitions the job to running.
func (s *Store) MarkJobRunning(_ context.Context, id string, at time.Time) error {
	return s.mutateJob(id, func(job *store.ScrapeJob) {
		job.Status = store.JobRunning
		job.StartedAt = &at
	})
}

// SetJobProgress checkpoints crawl position and review tally.
func (s *Store) SetJobProgress(_ context.Context, id string, totalPages, currentPage, totalReviews int) error {
	return s.mutateJob(id, func(job *store.ScrapeJob) {
		job.TotalPages = totalPages
		job.CurrentPage = currentPage
		job.TotalReviewsFound = totalReviews
	})
}

// CompleteJob marks the job completed.
func (s *Store) CompleteJob(_ context.Context, id string, at time.Time, totalPages, totalReviews int) error {
	return s.mutateJob(id, func(job *store.ScrapeJob) {
		job.Status = store.JobCompleted
		job.CompletedAt = &at
		job.TotalPages = totalPages
		job.CurrentPage = totalPages
		job.TotalReviewsFound = totalReviews
	})
}

// FailJob marks the job failed with a message.
func (s *Store) FailJob(_ context.Context, id string, at time.Time, message string) error {
	return s.mutateJob(id, func(job *store.ScrapeJob) {
		job.Status = store.JobFailed
		job.CompletedAt = &at
		job.ErrorMessage = message
	})
}

func (s *Store) mutateJob(id string, fn func(*store.ScrapeJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}

// InsertReviews inserts reviews keyed by content hash; duplicates are
// silently skipped.
func (s *Store) InsertReviews(_ context.Context, reviews []store.Review) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, review := range reviews {
		if _, exists := s.reviews[review.ContentHash]; exists {
			continue
		}
		if review.CreatedAt.IsZero() {
			review.CreatedAt = time.Now().UTC()
		}
		s.reviews[review.ContentHash] = review
		inserted++
	}
	return inserted, nil
}

// CountReviews returns the deduplicated review count for a job.
func (s *Store) CountReviews(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, review := range s.reviews {
		if review.JobID == jobID {
			count++
		}
	}
	return count, nil
}

// ListReviews returns all reviews for a job ordered by content hash for
// deterministic output.
func (s *Store) ListReviews(_ context.Context, jobID string) ([]store.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Review
	for _, review := range s.reviews {
		if review.JobID == jobID {
			out = append(out, review)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	return out, nil
}

// PutAgent stores an agent row. Test/seed helper; agent CRUD is an external
// lifecycle concern.
func (s *Store) PutAgent(agent store.RecurringAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
}

// GetAgent fetches an agent by ID.
func (s *Store) GetAgent(_ context.Context, id string) (store.RecurringAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return store.RecurringAgent{}, store.ErrNotFound
	}
	return agent, nil
}

// ListDueAgents returns active agents scheduled for runDay.
func (s *Store) ListDueAgents(_ context.Context, runDay int) ([]store.RecurringAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RecurringAgent
	for _, agent := range s.agents {
		if agent.Status == store.AgentActive && agent.RunDay == runDay {
			out = append(out, agent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecordAgentOutcome writes post-run bookkeeping.
func (s *Store) RecordAgentOutcome(_ context.Context, id string, outcome store.AgentOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	at := outcome.RunAt
	agent.LastRunAt = &at
	agent.LastRunStatus = outcome.Status
	agent.LastRunMessage = outcome.Message
	agent.LastReviewsPushed = outcome.ReviewsPushed
	s.agents[id] = agent
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
