// Package crawl drives a scrape job through the paginated review listing in
// bounded batches, persisting progress so any invocation can resume from a
// continuation token.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/archive"
	"github.com/vilca-glitch/shopify/internal/clock"
	"github.com/vilca-glitch/shopify/internal/events"
	"github.com/vilca-glitch/shopify/internal/fetch"
	"github.com/vilca-glitch/shopify/internal/metrics"
	"github.com/vilca-glitch/shopify/internal/scrape"
	"github.com/vilca-glitch/shopify/internal/store"
)

// Batch statuses returned to callers.
const (
	StatusCompleted  = "completed"
	StatusContinuing = "continuing"
)

// ErrJobTerminal is returned when a batch is requested for a job that has
// already completed or failed.
var ErrJobTerminal = errors.New("job already finished")

// Result summarizes one batch invocation. When Status is StatusContinuing,
// NextPage is the continuation token for the follow-up call.
type Result struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	NextPage     int    `json:"next_page,omitempty"`
	TotalPages   int    `json:"total_pages"`
	CurrentPage  int    `json:"current_page"`
	TotalReviews int    `json:"total_reviews"`
}

// Config tunes batch behavior.
type Config struct {
	// PagesPerBatch caps how many pages one invocation processes.
	PagesPerBatch int
	// PageDelay is the politeness pause between consecutive page fetches.
	PageDelay time.Duration
}

// Orchestrator executes scrape job batches against a review listing.
type Orchestrator struct {
	store   store.Store
	fetcher fetch.Fetcher
	archive archive.Store
	events  events.Publisher
	clock   clock.Clock
	logger  *zap.Logger
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator. Nil archive and events collaborators default
// to no-ops.
func New(st store.Store, fetcher fetch.Fetcher, cfg Config, opts ...Option) *Orchestrator {
	if cfg.PagesPerBatch <= 0 {
		cfg.PagesPerBatch = 30
	}
	o := &Orchestrator{
		store:   st,
		fetcher: fetcher,
		archive: archive.Noop{},
		events:  events.Noop{},
		clock:   clock.System{},
		logger:  zap.NewNop(),
		cfg:     cfg,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithArchive stores fetched page markup in the given archive.
func WithArchive(a archive.Store) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.archive = a
		}
	}
}

// WithEvents publishes job lifecycle events to the given publisher.
func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Run processes one batch of pages for the job. startPage <= 1 initiates the
// crawl: prior jobs for the same target URL are purged, the job transitions
// to running and pagination is estimated from the first page. Larger values
// resume from a continuation token issued by the previous batch.
func (o *Orchestrator) Run(ctx context.Context, jobID string, startPage int) (Result, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		return Result{}, fmt.Errorf("job %s already %s: %w", jobID, job.Status, ErrJobTerminal)
	}
	if startPage <= 1 {
		startPage = 1
		if err := o.initiate(ctx, &job); err != nil {
			return Result{}, err
		}
	}

	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("slug", job.TargetSlug))
	totalPages := job.TotalPages
	page := startPage
	for processed := 0; processed < o.cfg.PagesPerBatch; processed++ {
		if totalPages > 0 && page > totalPages {
			break
		}
		if page > startPage && o.cfg.PageDelay > 0 {
			if err := o.sleep(ctx, o.cfg.PageDelay); err != nil {
				return Result{}, err
			}
		}

		markup, fetchErr := o.fetchPage(ctx, job, page)
		if fetchErr != nil {
			if page == 1 {
				return Result{}, o.fail(ctx, job, fmt.Sprintf("fetch first page: %v", fetchErr))
			}
			logger.Warn("page fetch failed, skipping",
				zap.Int("page", page), zap.Error(fetchErr))
			metrics.ObservePage(job.TargetSlug, "error")
			page++
			continue
		}
		metrics.ObservePage(job.TargetSlug, "ok")

		if err := o.archive.Save(ctx, job.ID, page, markup); err != nil {
			logger.Warn("archive save failed", zap.Int("page", page), zap.Error(err))
		}

		if page == 1 {
			p := scrape.EstimatePagination(markup)
			totalPages = p.TotalPages
			logger.Info("pagination estimated", zap.Int("total_pages", totalPages))
		}

		reviews := scrape.ExtractReviews(markup)
		inserted, err := o.store.InsertReviews(ctx, toStoreReviews(job.ID, reviews, o.clock.Now()))
		if err != nil {
			return Result{}, o.fail(ctx, job, fmt.Sprintf("persist reviews for page %d: %v", page, err))
		}
		metrics.ObserveReviews(job.TargetSlug, inserted)
		logger.Debug("page processed",
			zap.Int("page", page),
			zap.Int("extracted", len(reviews)),
			zap.Int("inserted", inserted))

		total, err := o.store.CountReviews(ctx, job.ID)
		if err != nil {
			return Result{}, o.fail(ctx, job, fmt.Sprintf("count reviews: %v", err))
		}
		if err := o.store.SetJobProgress(ctx, job.ID, totalPages, page, total); err != nil {
			return Result{}, fmt.Errorf("checkpoint progress: %w", err)
		}
		page++
	}

	lastProcessed := page - 1
	total, err := o.store.CountReviews(ctx, job.ID)
	if err != nil {
		return Result{}, o.fail(ctx, job, fmt.Sprintf("count reviews: %v", err))
	}

	if totalPages > 0 && lastProcessed >= totalPages {
		now := o.clock.Now()
		if err := o.store.CompleteJob(ctx, job.ID, now, totalPages, total); err != nil {
			return Result{}, fmt.Errorf("complete job: %w", err)
		}
		metrics.ObserveJob(string(store.JobCompleted))
		o.publish(ctx, events.TopicJobCompleted, events.JobEvent{
			JobID:        job.ID,
			TargetSlug:   job.TargetSlug,
			TargetURL:    job.TargetURL,
			TotalPages:   totalPages,
			TotalReviews: total,
			At:           now,
		})
		logger.Info("job completed",
			zap.Int("total_pages", totalPages),
			zap.Int("total_reviews", total))
		return Result{
			JobID:        job.ID,
			Status:       StatusCompleted,
			TotalPages:   totalPages,
			CurrentPage:  lastProcessed,
			TotalReviews: total,
		}, nil
	}

	logger.Info("batch finished, continuing",
		zap.Int("next_page", lastProcessed+1),
		zap.Int("total_pages", totalPages),
		zap.Int("total_reviews", total))
	return Result{
		JobID:        job.ID,
		Status:       StatusContinuing,
		NextPage:     lastProcessed + 1,
		TotalPages:   totalPages,
		CurrentPage:  lastProcessed,
		TotalReviews: total,
	}, nil
}

func (o *Orchestrator) initiate(ctx context.Context, job *store.ScrapeJob) error {
	purged, err := o.store.PurgeJobsForURL(ctx, job.TargetURL, job.ID)
	if err != nil {
		return fmt.Errorf("purge prior jobs: %w", err)
	}
	if purged > 0 {
		o.logger.Info("purged prior jobs",
			zap.String("target_url", job.TargetURL),
			zap.Int("purged", purged))
	}
	now := o.clock.Now()
	if err := o.store.MarkJobRunning(ctx, job.ID, now); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	job.Status = store.JobRunning
	o.publish(ctx, events.TopicJobStarted, events.JobEvent{
		JobID:      job.ID,
		TargetSlug: job.TargetSlug,
		TargetURL:  job.TargetURL,
		At:         now,
	})
	return nil
}

func (o *Orchestrator) fetchPage(ctx context.Context, job store.ScrapeJob, page int) (string, error) {
	pageURL, err := scrape.BuildReviewsURL(job.TargetURL, page)
	if err != nil {
		return "", err
	}
	return o.fetcher.Fetch(ctx, pageURL)
}

func (o *Orchestrator) fail(ctx context.Context, job store.ScrapeJob, message string) error {
	now := o.clock.Now()
	if err := o.store.FailJob(ctx, job.ID, now, message); err != nil {
		o.logger.Error("failed to mark job failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(store.JobFailed))
	o.publish(ctx, events.TopicJobFailed, events.JobEvent{
		JobID:      job.ID,
		TargetSlug: job.TargetSlug,
		TargetURL:  job.TargetURL,
		Error:      message,
		At:         now,
	})
	return fmt.Errorf("job %s failed: %s", job.ID, message)
}

func (o *Orchestrator) publish(ctx context.Context, topic string, event events.JobEvent) {
	if err := o.events.Publish(ctx, topic, event); err != nil {
		o.logger.Warn("event publish failed",
			zap.String("topic", topic), zap.Error(err))
	}
}

func toStoreReviews(jobID string, reviews []scrape.Review, at time.Time) []store.Review {
	out := make([]store.Review, 0, len(reviews))
	for _, r := range reviews {
		out = append(out, store.Review{
			JobID:         jobID,
			ReviewerName:  r.ReviewerName,
			Location:      r.Location,
			UsageTime:     r.UsageTime,
			StarRating:    r.StarRating,
			ReviewContent: r.ReviewContent,
			ReviewDate:    r.ReviewDate,
			ContentHash:   r.ContentHash,
			CreatedAt:     at,
		})
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
