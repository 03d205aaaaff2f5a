// Package headless renders pages with a locally managed Chrome via chromedp.
// It is a drop-in alternative to the external rendering service for operators
// who run their own browser.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/vilca-glitch/shopify/internal/fetch"
)

// Config controls the local renderer.
type Config struct {
	UserAgent  string
	NavTimeout time.Duration
}

// Fetcher implements fetch.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless fetcher backed by chromedp.
func New(cfg Config) *Fetcher {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the settled DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-done:
		}
	}()
	defer close(done)

	var markup string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &markup),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &fetch.Error{Transient: true, Message: fmt.Sprintf("render %s: %v", url, err)}
	}
	return markup, nil
}
