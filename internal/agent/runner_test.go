package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/clock"
	"github.com/vilca-glitch/shopify/internal/crawl"
	"github.com/vilca-glitch/shopify/internal/metrics"
	"github.com/vilca-glitch/shopify/internal/storage/memory"
	"github.com/vilca-glitch/shopify/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// stubBatches completes jobs immediately, persisting canned reviews.
type stubBatches struct {
	st      *memory.Store
	reviews []store.Review
	err     error

	mu   sync.Mutex
	runs int
}

func (s *stubBatches) Run(ctx context.Context, jobID string, _ int) (crawl.Result, error) {
	s.mu.Lock()
	s.runs++
	run := s.runs
	s.mu.Unlock()

	if s.err != nil {
		_ = s.st.FailJob(ctx, jobID, time.Now(), s.err.Error())
		return crawl.Result{}, s.err
	}
	reviews := make([]store.Review, 0, len(s.reviews))
	for i, r := range s.reviews {
		r.JobID = jobID
		if r.ContentHash == "" {
			r.ContentHash = fmt.Sprintf("hash-%d-%d", run, i)
		}
		reviews = append(reviews, r)
	}
	if _, err := s.st.InsertReviews(ctx, reviews); err != nil {
		return crawl.Result{}, err
	}
	if err := s.st.CompleteJob(ctx, jobID, time.Now(), 1, len(reviews)); err != nil {
		return crawl.Result{}, err
	}
	return crawl.Result{
		JobID:        jobID,
		Status:       crawl.StatusCompleted,
		TotalPages:   1,
		TotalReviews: len(reviews),
	}, nil
}

// webhookSink records delivered payloads.
type webhookSink struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	status   int
}

func (w *webhookSink) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		var payload WebhookPayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		w.payloads = append(w.payloads, payload)
		w.mu.Unlock()
		if w.status != 0 {
			rw.WriteHeader(w.status)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}
}

func (w *webhookSink) delivered() []WebhookPayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WebhookPayload, len(w.payloads))
	copy(out, w.payloads)
	return out
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

// 2024-06-05 is a Wednesday.
var wednesdayNoonUTC = time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, st *memory.Store, batches BatchRunner) *Runner {
	t.Helper()
	r := New(st, batches, nil, Config{
		Timezone:        newYork(t),
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
	}, zap.NewNop())
	r.WithClock(clock.Fixed{At: wednesdayNoonUTC})
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func seedAgent(st *memory.Store, id, webhookURL string, runDay int, lastRun *time.Time) store.RecurringAgent {
	agent := store.RecurringAgent{
		ID:         id,
		TargetURL:  "https://apps.shopify.com/example-app",
		TargetSlug: "example-app",
		RunDay:     runDay,
		WebhookURL: webhookURL,
		Status:     store.AgentActive,
		LastRunAt:  lastRun,
	}
	st.PutAgent(agent)
	return agent
}

func TestRunDueFirstRunPushesEverything(t *testing.T) {
	t.Parallel()

	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{
		{ReviewerName: "Jane", StarRating: 5, ReviewContent: "Great app", ReviewDate: "January 15, 2024"},
		{ReviewerName: "Bob", StarRating: 3, ReviewContent: "Fine", ReviewDate: "January 5, 2024"},
	}}
	seedAgent(st, "agent-1", srv.URL, 3, nil)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, store.RunSuccess, results[0].Status)
	require.Equal(t, 2, results[0].ReviewsPushed)

	payloads := sink.delivered()
	require.Len(t, payloads, 1)
	require.Equal(t, "agent-1", payloads[0].AgentID)
	require.Equal(t, "example-app", payloads[0].AppSlug)
	require.Len(t, payloads[0].Reviews, 2)

	agent, err := st.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, agent.LastRunStatus)
	require.Equal(t, 2, agent.LastReviewsPushed)
	require.NotNil(t, agent.LastRunAt)
}

func TestRunDueDeltaByReviewDate(t *testing.T) {
	t.Parallel()

	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	lastRun := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{
		{ReviewerName: "Old", ReviewDate: "January 5, 2024", StarRating: 4, CreatedAt: lastRun.Add(-time.Hour)},
		{ReviewerName: "New", ReviewDate: "January 15, 2024", StarRating: 5, CreatedAt: lastRun.Add(time.Hour)},
		{ReviewerName: "Undated fresh", ReviewDate: "", StarRating: 2, CreatedAt: lastRun.Add(2 * time.Hour)},
		{ReviewerName: "Undated stale", ReviewDate: "", StarRating: 1, CreatedAt: lastRun.Add(-2 * time.Hour)},
	}}
	seedAgent(st, "agent-1", srv.URL, 3, &lastRun)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2, results[0].ReviewsPushed)

	payloads := sink.delivered()
	require.Len(t, payloads, 1)
	names := make([]string, 0, 2)
	for _, r := range payloads[0].Reviews {
		names = append(names, r.ReviewerName)
	}
	require.ElementsMatch(t, []string{"New", "Undated fresh"}, names)
}

func TestRunDueEmptyDeltaStillDelivered(t *testing.T) {
	t.Parallel()

	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	lastRun := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{
		{ReviewerName: "Old", ReviewDate: "January 5, 2024", CreatedAt: lastRun.Add(-time.Hour)},
	}}
	seedAgent(st, "agent-1", srv.URL, 3, &lastRun)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, results[0].Status)
	require.Zero(t, results[0].ReviewsPushed)

	payloads := sink.delivered()
	require.Len(t, payloads, 1)
	require.Empty(t, payloads[0].Reviews)
}

func TestRunDueWebhookFailureRecorded(t *testing.T) {
	t.Parallel()

	sink := &webhookSink{status: http.StatusInternalServerError}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{{ReviewerName: "Jane", StarRating: 5}}}
	seedAgent(st, "agent-1", srv.URL, 3, nil)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, results[0].Status)
	require.Contains(t, results[0].Message, "webhook")

	agent, err := st.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, agent.LastRunStatus)
}

func TestRunDueScrapeFailureRecorded(t *testing.T) {
	t.Parallel()

	st := memory.New()
	batches := &stubBatches{st: st, err: errors.New("target unreachable")}
	seedAgent(st, "agent-1", "http://unused.invalid", 3, nil)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, store.RunFailed, results[0].Status)
	require.Contains(t, results[0].Message, "target unreachable")
}

func TestRunDueSweepSelectsByWeekday(t *testing.T) {
	t.Parallel()

	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{{ReviewerName: "Jane", StarRating: 5}}}
	seedAgent(st, "agent-wed", srv.URL, 3, nil)
	seedAgent(st, "agent-fri", srv.URL, 5, nil)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "agent-wed", results[0].AgentID)
}

func TestRunDueSpecificAgentIgnoresDay(t *testing.T) {
	t.Parallel()

	sink := &webhookSink{}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{{ReviewerName: "Jane", StarRating: 5}}}
	seedAgent(st, "agent-fri", srv.URL, 5, nil)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "agent-fri")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, store.RunSuccess, results[0].Status)
}

func TestRunDueAgentFailureDoesNotAbortSweep(t *testing.T) {
	t.Parallel()

	okSink := &webhookSink{}
	okSrv := httptest.NewServer(okSink.handler())
	defer okSrv.Close()
	badSink := &webhookSink{status: http.StatusBadGateway}
	badSrv := httptest.NewServer(badSink.handler())
	defer badSrv.Close()

	st := memory.New()
	batches := &stubBatches{st: st, reviews: []store.Review{{ReviewerName: "Jane", StarRating: 5}}}
	seedAgent(st, "agent-a", badSrv.URL, 3, nil)
	seedAgent(st, "agent-b", okSrv.URL, 3, nil)

	runner := newTestRunner(t, st, batches)
	results, err := runner.RunDue(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, store.RunFailed, results[0].Status)
	require.Equal(t, store.RunSuccess, results[1].Status)
	require.Len(t, okSink.delivered(), 1)
}

func TestRunDueUnknownAgent(t *testing.T) {
	t.Parallel()

	runner := newTestRunner(t, memory.New(), &stubBatches{st: memory.New()})
	_, err := runner.RunDue(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
