// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/agent"
	"github.com/vilca-glitch/shopify/internal/clock"
	"github.com/vilca-glitch/shopify/internal/crawl"
	"github.com/vilca-glitch/shopify/internal/metrics"
	"github.com/vilca-glitch/shopify/internal/scrape"
	"github.com/vilca-glitch/shopify/internal/store"
)

// Batches runs scrape job batches; satisfied by *crawl.Orchestrator.
type Batches interface {
	Run(ctx context.Context, jobID string, startPage int) (crawl.Result, error)
}

// Agents runs recurring agents; satisfied by *agent.Runner.
type Agents interface {
	RunDue(ctx context.Context, agentID string) ([]agent.Result, error)
}

// Server wires HTTP handlers to the store, orchestrator and agent runner.
type Server struct {
	router  chi.Router
	store   store.Store
	batches Batches
	agents  Agents
	clock   clock.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.Store, batches Batches, agents Agents, clk clock.Clock, logger *zap.Logger) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   st,
		batches: batches,
		agents:  agents,
		clock:   clk,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/scrape", s.scrapeBatch)
			})
		})
		r.Post("/agents/run", s.runAgents)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a cheap read proves it answers.
	if _, err := s.store.GetJob(r.Context(), "readyz-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createJobRequest struct {
	AppURL string `json:"app_url"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	slug, err := scrape.SlugFromURL(req.AppURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job := store.ScrapeJob{
		ID:         uuid.NewString(),
		TargetURL:  req.AppURL,
		TargetSlug: slug,
		Status:     store.JobPending,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load job failed")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

type scrapeRequest struct {
	Page int `json:"page"`
}

func (s *Server) scrapeBatch(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req scrapeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	res, err := s.batches.Run(r.Context(), jobID, req.Page)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, crawl.ErrJobTerminal):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type runAgentsRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) runAgents(w http.ResponseWriter, r *http.Request) {
	var req runAgentsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	results, err := s.agents.RunDue(r.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type jobView struct {
	ID                string     `json:"id"`
	AppURL            string     `json:"app_url"`
	AppSlug           string     `json:"app_slug"`
	Status            string     `json:"status"`
	TotalPages        int        `json:"total_pages"`
	CurrentPage       int        `json:"current_page"`
	TotalReviewsFound int        `json:"total_reviews_found"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func jobResponse(job store.ScrapeJob) jobView {
	return jobView{
		ID:                job.ID,
		AppURL:            job.TargetURL,
		AppSlug:           job.TargetSlug,
		Status:            string(job.Status),
		TotalPages:        job.TotalPages,
		CurrentPage:       job.CurrentPage,
		TotalReviewsFound: job.TotalReviewsFound,
		ErrorMessage:      job.ErrorMessage,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
