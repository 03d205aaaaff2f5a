package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/vilca-glitch/shopify/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("job-1", "https://apps.shopify.com/example", "example", store.JobPending, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateJob(context.Background(), store.ScrapeJob{
		ID:         "job-1",
		TargetURL:  "https://apps.shopify.com/example",
		TargetSlug: "example",
		CreatedAt:  now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, target_url").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := s.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReviewsSkipsDuplicates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	reviews := []store.Review{
		{JobID: "job-1", ContentHash: "aaa", StarRating: 5, ReviewerName: "Jane", CreatedAt: now},
		{JobID: "job-1", ContentHash: "bbb", StarRating: 4, ReviewerName: "Joe", CreatedAt: now},
	}

	mock.ExpectExec("INSERT INTO reviews").
		WithArgs("aaa", "job-1", "Jane", "", "", 5, "", "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Second row already exists: ON CONFLICT swallows it.
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs("bbb", "job-1", "Joe", "", "", 4, "", "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := s.InsertReviews(context.Background(), reviews)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountReviews(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.CountReviews(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 42, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobRequiresExistingRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs(store.JobCompleted, now, 12, 117, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteJob(context.Background(), "job-1", now, 12, 117)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeJobsForURL(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM scrape_jobs").
		WithArgs("https://apps.shopify.com/example", "job-keep").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := s.PurgeJobsForURL(context.Background(), "https://apps.shopify.com/example", "job-keep")
	require.NoError(t, err)
	require.Equal(t, 3, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueAgents(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	lastRun := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "target_url", "target_slug", "run_day", "webhook_url", "status",
		"last_run_at", "last_run_status", "last_run_message", "last_reviews_pushed",
	}).AddRow(
		"agent-1", "https://apps.shopify.com/example", "example", 3,
		"https://hooks.example.com/x", "active", &lastRun, "success", "", 7,
	)

	mock.ExpectQuery("SELECT id, target_url").
		WithArgs(store.AgentActive, 3).
		WillReturnRows(rows)

	agents, err := s.ListDueAgents(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, "agent-1", agents[0].ID)
	require.Equal(t, store.AgentActive, agents[0].Status)
	require.Equal(t, store.RunSuccess, agents[0].LastRunStatus)
	require.Equal(t, 7, agents[0].LastReviewsPushed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAgentOutcome(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE recurring_agents").
		WithArgs(now, store.RunFailed, "webhook failed: 500", 0, "agent-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.RecordAgentOutcome(context.Background(), "agent-1", store.AgentOutcome{
		RunAt:   now,
		Status:  store.RunFailed,
		Message: "webhook failed: 500",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
