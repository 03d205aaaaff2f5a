// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperPagesTotal          *prometheus.CounterVec
	scraperReviewsTotal        *prometheus.CounterVec
	scraperFetchRetriesTotal   prometheus.Counter
	scraperJobsTotal           *prometheus.CounterVec
	scraperWebhooksTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of listing pages fetched, labeled by slug and status.",
			},
			[]string{"slug", "status"},
		)

		scraperReviewsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_reviews_total",
				Help: "Total number of reviews extracted, labeled by slug.",
			},
			[]string{"slug"},
		)

		scraperFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_fetch_retries_total",
				Help: "Total number of transient fetch failures that were retried.",
			},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		scraperWebhooksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_webhook_deliveries_total",
				Help: "Total number of webhook deliveries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page fetch counter.
func ObservePage(slug, status string) {
	scraperPagesTotal.WithLabelValues(slug, status).Inc()
}

// ObserveReviews adds to the extracted review counter.
func ObserveReviews(slug string, count int) {
	if count > 0 {
		scraperReviewsTotal.WithLabelValues(slug).Add(float64(count))
	}
}

// ObserveFetchRetry increments the transient retry counter.
func ObserveFetchRetry() {
	scraperFetchRetriesTotal.Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// ObserveWebhook increments the webhook delivery counter.
func ObserveWebhook(outcome string) {
	scraperWebhooksTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
