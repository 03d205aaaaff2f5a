package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vilca-glitch/shopify/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, endpoint string, retries int) (*Browserless, *atomic.Int32) {
	t.Helper()
	b, err := NewBrowserless(BrowserlessConfig{
		Endpoint:   endpoint,
		APIKey:     "test-key",
		MaxRetries: retries,
	}, nil)
	require.NoError(t, err)

	var waits atomic.Int32
	b.sleep = func(_ context.Context, _ time.Duration) error {
		waits.Add(1)
		return nil
	}
	return b, &waits
}

func TestBrowserlessRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewBrowserless(BrowserlessConfig{Endpoint: "https://example.com"}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestBrowserlessRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("token"))

		var req contentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "https://apps.shopify.com/example/reviews", req.URL)
		require.Equal(t, "networkidle2", req.GotoOptions.WaitUntil)

		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("<html>rendered</html>"))
	}))
	defer srv.Close()

	b, waits := newTestClient(t, srv.URL, 2)
	markup, err := b.Fetch(context.Background(), "https://apps.shopify.com/example/reviews")
	require.NoError(t, err)
	require.Equal(t, "<html>rendered</html>", markup)
	require.EqualValues(t, 3, calls.Load())
	require.EqualValues(t, 2, waits.Load())
}

func TestBrowserlessPermanentStatusFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	b, waits := newTestClient(t, srv.URL, 2)
	_, err := b.Fetch(context.Background(), "https://apps.shopify.com/gone")
	require.Error(t, err)
	require.False(t, IsTransient(err))
	require.EqualValues(t, 1, calls.Load())
	require.EqualValues(t, 0, waits.Load())
}

func TestBrowserlessExhaustsRetriesOnPersistentOverload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, waits := newTestClient(t, srv.URL, 2)
	_, err := b.Fetch(context.Background(), "https://apps.shopify.com/busy")
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.EqualValues(t, 2, waits.Load())
}
