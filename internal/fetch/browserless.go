package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/metrics"
)

// BrowserlessConfig controls the rendering-service client.
type BrowserlessConfig struct {
	Endpoint       string
	APIKey         string
	NavTimeout     time.Duration
	MaxRetries     int
	RequestTimeout time.Duration
}

// Browserless fetches pages through an external rendering service that
// executes the target's scripts and returns settled HTML.
type Browserless struct {
	client *resty.Client
	cfg    BrowserlessConfig
	logger *zap.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

type contentRequest struct {
	URL         string      `json:"url"`
	GotoOptions gotoOptions `json:"gotoOptions"`
}

type gotoOptions struct {
	WaitUntil string `json:"waitUntil"`
	TimeoutMs int64  `json:"timeout"`
}

// NewBrowserless builds the client. A missing API key is fatal configuration.
func NewBrowserless(cfg BrowserlessConfig, logger *zap.Logger) (*Browserless, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("browserless endpoint is required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json")
	return &Browserless{
		client: client,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Fetch posts the target URL to the rendering service and returns the
// rendered HTML. Transient upstream statuses are retried with linear backoff;
// anything else propagates immediately.
func (b *Browserless) Fetch(ctx context.Context, url string) (string, error) {
	body := contentRequest{
		URL: url,
		GotoOptions: gotoOptions{
			WaitUntil: "networkidle2",
			TimeoutMs: b.cfg.NavTimeout.Milliseconds(),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ObserveFetchRetry()
			// Linear in attempt count, seconds-scale.
			if err := b.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return "", err
			}
		}

		resp, err := b.client.R().
			SetContext(ctx).
			SetQueryParam("token", b.cfg.APIKey).
			SetBody(body).
			Post(b.cfg.Endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = &Error{Transient: true, Message: err.Error()}
			b.logger.Warn("rendering service request failed",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if resp.IsSuccess() {
			return resp.String(), nil
		}

		status := resp.StatusCode()
		lastErr = &Error{
			Transient: transientStatus(status),
			Status:    status,
			Message:   truncate(resp.String(), 200),
		}
		if !transientStatus(status) {
			return "", lastErr
		}
		b.logger.Warn("rendering service returned transient status",
			zap.String("url", url),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1))
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
