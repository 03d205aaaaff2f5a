// Package static implements a plain-HTTP probe fetcher using gocolly.
package static

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/vilca-glitch/shopify/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements fetch.Fetcher with a single colly GET per call.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes one HTTP GET and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	collector := f.baseCollector.Clone()

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := collector.Visit(url); err != nil {
		return "", &fetch.Error{Transient: true, Status: status, Message: err.Error()}
	}
	collector.Wait()

	if fetchErr != nil {
		return "", &fetch.Error{Transient: true, Status: status, Message: fetchErr.Error()}
	}
	if status >= 400 {
		return "", &fetch.Error{Status: status, Message: fmt.Sprintf("probe returned status %d", status)}
	}
	return string(body), nil
}
