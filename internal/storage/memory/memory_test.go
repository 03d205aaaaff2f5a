package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vilca-glitch/shopify/internal/store"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := New()

	job := store.ScrapeJob{
		ID:         "job-1",
		TargetURL:  "https://apps.shopify.com/example",
		TargetSlug: "example",
		Status:     store.JobPending,
	}
	require.NoError(t, st.CreateJob(ctx, job))

	started := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkJobRunning(ctx, "job-1", started))
	require.NoError(t, st.SetJobProgress(ctx, "job-1", 5, 2, 17))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobRunning, got.Status)
	require.Equal(t, 2, got.CurrentPage)
	require.Equal(t, 17, got.TotalReviewsFound)
	require.Equal(t, &started, got.StartedAt)

	done := started.Add(time.Minute)
	require.NoError(t, st.CompleteJob(ctx, "job-1", done, 5, 48))
	got, err = st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, got.Status)
	require.Equal(t, 48, got.TotalReviewsFound)
}

func TestJobMutationsOnMissingJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := New()
	now := time.Now()

	require.ErrorIs(t, st.MarkJobRunning(ctx, "nope", now), store.ErrNotFound)
	require.ErrorIs(t, st.CompleteJob(ctx, "nope", now, 1, 1), store.ErrNotFound)
	require.ErrorIs(t, st.FailJob(ctx, "nope", now, "boom"), store.ErrNotFound)
	_, err := st.GetJob(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertReviewsDeduplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := New()

	inserted, err := st.InsertReviews(ctx, []store.Review{
		{JobID: "job-1", ContentHash: "a", StarRating: 5},
		{JobID: "job-1", ContentHash: "b", StarRating: 4},
		{JobID: "job-1", ContentHash: "a", StarRating: 5},
	})
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	inserted, err = st.InsertReviews(ctx, []store.Review{
		{JobID: "job-1", ContentHash: "b", StarRating: 4},
	})
	require.NoError(t, err)
	require.Zero(t, inserted)

	count, err := st.CountReviews(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	reviews, err := st.ListReviews(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	require.Equal(t, "a", reviews[0].ContentHash)
}

func TestPurgeJobsForURLKeepsCurrentJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := New()
	target := "https://apps.shopify.com/example"

	require.NoError(t, st.CreateJob(ctx, store.ScrapeJob{ID: "old", TargetURL: target}))
	require.NoError(t, st.CreateJob(ctx, store.ScrapeJob{ID: "new", TargetURL: target}))
	require.NoError(t, st.CreateJob(ctx, store.ScrapeJob{ID: "other", TargetURL: "https://apps.shopify.com/other"}))
	_, err := st.InsertReviews(ctx, []store.Review{{JobID: "old", ContentHash: "x"}})
	require.NoError(t, err)

	removed, err := st.PurgeJobsForURL(ctx, target, "new")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = st.GetJob(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetJob(ctx, "new")
	require.NoError(t, err)
	_, err = st.GetJob(ctx, "other")
	require.NoError(t, err)

	count, err := st.CountReviews(ctx, "old")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDueAgentsAndOutcome(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := New()
	st.PutAgent(store.RecurringAgent{ID: "a", RunDay: 3, Status: store.AgentActive})
	st.PutAgent(store.RecurringAgent{ID: "b", RunDay: 3, Status: store.AgentPaused})
	st.PutAgent(store.RecurringAgent{ID: "c", RunDay: 5, Status: store.AgentActive})

	due, err := st.ListDueAgents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "a", due[0].ID)

	runAt := time.Date(2024, 6, 5, 6, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordAgentOutcome(ctx, "a", store.AgentOutcome{
		RunAt:         runAt,
		Status:        store.RunSuccess,
		Message:       "pushed 3 reviews",
		ReviewsPushed: 3,
	}))

	agent, err := st.GetAgent(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, agent.LastRunStatus)
	require.Equal(t, 3, agent.LastReviewsPushed)
	require.Equal(t, &runAt, agent.LastRunAt)

	require.ErrorIs(t, st.RecordAgentOutcome(ctx, "nope", store.AgentOutcome{}), store.ErrNotFound)
}
