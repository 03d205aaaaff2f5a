// Package agent runs recurring scrape subscriptions: each active agent gets a
// fresh crawl on its scheduled weekday and the resulting review delta pushed
// to its webhook.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/clock"
	"github.com/vilca-glitch/shopify/internal/crawl"
	"github.com/vilca-glitch/shopify/internal/metrics"
	"github.com/vilca-glitch/shopify/internal/store"
)

// reviewDateLayout matches the listing's rendered review dates.
const reviewDateLayout = "January 2, 2006"

// BatchRunner executes one scrape batch; satisfied by *crawl.Orchestrator.
type BatchRunner interface {
	Run(ctx context.Context, jobID string, startPage int) (crawl.Result, error)
}

// Config tunes the runner.
type Config struct {
	// Timezone decides which weekday "today" falls on for due checks.
	Timezone *time.Location
	// PollInterval and MaxPollAttempts bound the wait for job completion.
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Result reports the outcome of one agent run.
type Result struct {
	AgentID       string          `json:"agent_id"`
	JobID         string          `json:"job_id"`
	Status        store.RunStatus `json:"status"`
	ReviewsPushed int             `json:"reviews_pushed"`
	Message       string          `json:"message"`
}

// WebhookPayload is the JSON document delivered to an agent's webhook.
type WebhookPayload struct {
	AgentID   string          `json:"agent_id"`
	AppSlug   string          `json:"app_slug"`
	AppURL    string          `json:"app_url"`
	ScrapedAt time.Time       `json:"scraped_at"`
	Reviews   []WebhookReview `json:"reviews"`
}

// WebhookReview is one review in the webhook payload. Absent fields are
// delivered as empty strings.
type WebhookReview struct {
	ReviewerName  string `json:"reviewer_name"`
	Location      string `json:"location"`
	UsageTime     string `json:"usage_time"`
	StarRating    int    `json:"star_rating"`
	ReviewContent string `json:"review_content"`
	ReviewDate    string `json:"review_date"`
}

// Runner executes due recurring agents.
type Runner struct {
	store   store.Store
	batches BatchRunner
	client  *resty.Client
	clock   clock.Clock
	logger  *zap.Logger
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Runner. A nil client gets a default resty client.
func New(st store.Store, batches BatchRunner, client *resty.Client, cfg Config, logger *zap.Logger) *Runner {
	if client == nil {
		client = resty.New().SetTimeout(30 * time.Second)
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 120
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:   st,
		batches: batches,
		client:  client,
		clock:   clock.System{},
		logger:  logger,
		cfg:     cfg,
		sleep:   sleepContext,
	}
}

// WithClock overrides the time source.
func (r *Runner) WithClock(c clock.Clock) *Runner {
	if c != nil {
		r.clock = c
	}
	return r
}

// RunDue executes agents. With a non-empty agentID only that agent runs,
// regardless of its scheduled day; otherwise every active agent whose run day
// matches today's weekday in the configured timezone runs. Agent failures are
// recorded per agent and never abort the sweep.
func (r *Runner) RunDue(ctx context.Context, agentID string) ([]Result, error) {
	agents, err := r.dueAgents(ctx, agentID)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(agents))
	for _, agent := range agents {
		res := r.runAgent(ctx, agent)
		results = append(results, res)

		outcome := store.AgentOutcome{
			RunAt:         r.clock.Now(),
			Status:        res.Status,
			Message:       res.Message,
			ReviewsPushed: res.ReviewsPushed,
		}
		if err := r.store.RecordAgentOutcome(ctx, agent.ID, outcome); err != nil {
			r.logger.Error("record agent outcome failed",
				zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}
	return results, nil
}

func (r *Runner) dueAgents(ctx context.Context, agentID string) ([]store.RecurringAgent, error) {
	if agentID != "" {
		agent, err := r.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("load agent: %w", err)
		}
		return []store.RecurringAgent{agent}, nil
	}
	runDay := int(r.clock.Now().In(r.cfg.Timezone).Weekday())
	agents, err := r.store.ListDueAgents(ctx, runDay)
	if err != nil {
		return nil, fmt.Errorf("list due agents: %w", err)
	}
	return agents, nil
}

func (r *Runner) runAgent(ctx context.Context, agent store.RecurringAgent) Result {
	logger := r.logger.With(
		zap.String("agent_id", agent.ID),
		zap.String("slug", agent.TargetSlug))

	jobID := uuid.NewString()
	job := store.ScrapeJob{
		ID:         jobID,
		TargetURL:  agent.TargetURL,
		TargetSlug: agent.TargetSlug,
		Status:     store.JobPending,
		CreatedAt:  r.clock.Now(),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return r.failure(agent, jobID, fmt.Sprintf("create job: %v", err))
	}

	res, err := r.batches.Run(ctx, jobID, 1)
	if err != nil {
		return r.failure(agent, jobID, fmt.Sprintf("scrape failed: %v", err))
	}
	for res.Status == crawl.StatusContinuing {
		res, err = r.batches.Run(ctx, jobID, res.NextPage)
		if err != nil {
			return r.failure(agent, jobID, fmt.Sprintf("scrape failed: %v", err))
		}
	}

	finished, err := r.waitForCompletion(ctx, jobID)
	if err != nil {
		return r.failure(agent, jobID, err.Error())
	}
	if finished.Status != store.JobCompleted {
		return r.failure(agent, jobID, fmt.Sprintf("job ended %s: %s", finished.Status, finished.ErrorMessage))
	}

	reviews, err := r.store.ListReviews(ctx, jobID)
	if err != nil {
		return r.failure(agent, jobID, fmt.Sprintf("load reviews: %v", err))
	}
	delta := r.deltaSince(agent, reviews)
	logger.Info("delta computed",
		zap.Int("scraped", len(reviews)),
		zap.Int("delta", len(delta)))

	if err := r.deliver(ctx, agent, delta); err != nil {
		metrics.ObserveWebhook("error")
		return r.failure(agent, jobID, fmt.Sprintf("webhook delivery: %v", err))
	}
	metrics.ObserveWebhook("ok")

	return Result{
		AgentID:       agent.ID,
		JobID:         jobID,
		Status:        store.RunSuccess,
		ReviewsPushed: len(delta),
		Message:       fmt.Sprintf("pushed %d reviews", len(delta)),
	}
}

// waitForCompletion polls the job until it reaches a terminal status. The
// batch loop above finishes jobs in-process, so the first poll normally
// succeeds; the bound guards against a stalled continuation.
func (r *Runner) waitForCompletion(ctx context.Context, jobID string) (store.ScrapeJob, error) {
	for attempt := 0; attempt < r.cfg.MaxPollAttempts; attempt++ {
		job, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			return store.ScrapeJob{}, fmt.Errorf("poll job: %w", err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			return store.ScrapeJob{}, err
		}
	}
	return store.ScrapeJob{}, fmt.Errorf("job %s did not finish within %d polls", jobID, r.cfg.MaxPollAttempts)
}

// deltaSince selects the reviews to push. First run delivers everything;
// later runs deliver reviews dated after the last run day, plus anything
// first persisted after the last run for dates that fail to parse.
func (r *Runner) deltaSince(agent store.RecurringAgent, reviews []store.Review) []store.Review {
	if agent.LastRunAt == nil {
		return reviews
	}
	lastRun := agent.LastRunAt.In(r.cfg.Timezone)
	lastDay := time.Date(lastRun.Year(), lastRun.Month(), lastRun.Day(), 0, 0, 0, 0, r.cfg.Timezone)

	var out []store.Review
	for _, review := range reviews {
		if parsed, err := time.ParseInLocation(reviewDateLayout, review.ReviewDate, r.cfg.Timezone); err == nil {
			if parsed.After(lastDay) {
				out = append(out, review)
			}
			continue
		}
		if review.CreatedAt.After(*agent.LastRunAt) {
			out = append(out, review)
		}
	}
	return out
}

// deliver posts the payload to the agent's webhook. An empty delta is still
// delivered so consumers observe the run.
func (r *Runner) deliver(ctx context.Context, agent store.RecurringAgent, delta []store.Review) error {
	payload := WebhookPayload{
		AgentID:   agent.ID,
		AppSlug:   agent.TargetSlug,
		AppURL:    agent.TargetURL,
		ScrapedAt: r.clock.Now(),
		Reviews:   make([]WebhookReview, 0, len(delta)),
	}
	for _, review := range delta {
		payload.Reviews = append(payload.Reviews, WebhookReview{
			ReviewerName:  review.ReviewerName,
			Location:      review.Location,
			UsageTime:     review.UsageTime,
			StarRating:    review.StarRating,
			ReviewContent: review.ReviewContent,
			ReviewDate:    review.ReviewDate,
		})
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(agent.WebhookURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}

func (r *Runner) failure(agent store.RecurringAgent, jobID, message string) Result {
	r.logger.Warn("agent run failed",
		zap.String("agent_id", agent.ID),
		zap.String("job_id", jobID),
		zap.String("reason", message))
	return Result{
		AgentID: agent.ID,
		JobID:   jobID,
		Status:  store.RunFailed,
		Message: message,
	}
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
