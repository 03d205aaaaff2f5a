package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/agent"
	"github.com/vilca-glitch/shopify/internal/archive"
	"github.com/vilca-glitch/shopify/internal/config"
	"github.com/vilca-glitch/shopify/internal/crawl"
	"github.com/vilca-glitch/shopify/internal/events"
	"github.com/vilca-glitch/shopify/internal/fetch"
	"github.com/vilca-glitch/shopify/internal/fetch/headless"
	"github.com/vilca-glitch/shopify/internal/fetch/static"
	"github.com/vilca-glitch/shopify/internal/logging"
	"github.com/vilca-glitch/shopify/internal/metrics"
	"github.com/vilca-glitch/shopify/internal/storage/memory"
	"github.com/vilca-glitch/shopify/internal/storage/postgres"
	"github.com/vilca-glitch/shopify/internal/store"
)

// app holds the assembled service components shared by all subcommands.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        store.Store
	fetcher      fetch.Fetcher
	orchestrator *crawl.Orchestrator
	runner       *agent.Runner
	timezone     *time.Location

	closers []func()
}

// buildApp assembles components from configuration.
func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &app{cfg: cfg, logger: logger}
	a.onClose(func() { _ = logger.Sync() })

	a.timezone, err = time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	if err := a.buildStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildFetcher(); err != nil {
		a.Close()
		return nil, err
	}

	arch, err := a.buildArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildEvents(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator = crawl.New(a.store, a.fetcher,
		crawl.Config{
			PagesPerBatch: cfg.Crawl.PagesPerBatch,
			PageDelay:     cfg.Crawl.PageDelay(),
		},
		crawl.WithArchive(arch),
		crawl.WithEvents(publisher),
		crawl.WithLogger(logger),
	)

	webhookClient := resty.New().SetTimeout(30 * time.Second)
	a.runner = agent.New(a.store, a.orchestrator, webhookClient,
		agent.Config{
			Timezone:        a.timezone,
			PollInterval:    cfg.Scheduler.PollInterval(),
			MaxPollAttempts: cfg.Scheduler.MaxPollAttempts,
		}, logger)

	return a, nil
}

func (a *app) buildStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case "postgres":
		st, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Store.DSN,
			MaxConns: a.cfg.Store.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.store = st
	case "memory":
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown store provider %q", a.cfg.Store.Provider)
	}
	a.onClose(a.store.Close)
	return nil
}

func (a *app) buildFetcher() error {
	var renderer fetch.Fetcher
	switch a.cfg.Fetch.Renderer {
	case "browserless":
		b, err := fetch.NewBrowserless(fetch.BrowserlessConfig{
			Endpoint:       a.cfg.Browserless.Endpoint,
			APIKey:         a.cfg.Browserless.APIKey,
			NavTimeout:     time.Duration(a.cfg.Browserless.NavTimeoutSec) * time.Second,
			MaxRetries:     a.cfg.Browserless.MaxRetries,
			RequestTimeout: time.Duration(a.cfg.Browserless.RequestTimeout) * time.Second,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init browserless: %w", err)
		}
		renderer = b
	case "chromedp":
		f := headless.New(headless.Config{
			UserAgent:  a.cfg.Fetch.UserAgent,
			NavTimeout: time.Duration(a.cfg.Browserless.NavTimeoutSec) * time.Second,
		})
		a.onClose(f.Close)
		renderer = f
	default:
		return fmt.Errorf("unknown renderer %q", a.cfg.Fetch.Renderer)
	}

	if a.cfg.Fetch.ProbeFirst {
		probe := static.New(static.Config{UserAgent: a.cfg.Fetch.UserAgent})
		a.fetcher = fetch.NewTiered(probe, renderer, fetch.NewRenderDetector(0), a.logger)
		return nil
	}
	a.fetcher = renderer
	return nil
}

func (a *app) buildArchive(ctx context.Context) (archive.Store, error) {
	switch a.cfg.Archive.Provider {
	case "noop", "":
		return archive.Noop{}, nil
	case "fs":
		return archive.NewFS(a.cfg.Archive.Dir, a.cfg.Archive.Prefix)
	case "gcs":
		g, err := archive.NewGCS(ctx, a.cfg.Archive.GCSBucket, a.cfg.Archive.Prefix)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.onClose(func() { _ = g.Close() })
		return g, nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", a.cfg.Archive.Provider)
	}
}

func (a *app) buildEvents(ctx context.Context) (events.Publisher, error) {
	switch a.cfg.Events.Provider {
	case "noop", "":
		return events.Noop{}, nil
	case "memory":
		return events.NewMemory(), nil
	case "pubsub":
		p, err := events.NewPubSub(ctx, a.cfg.Events.ProjectID, a.cfg.Events.TopicName)
		if err != nil {
			return nil, fmt.Errorf("init pubsub events: %w", err)
		}
		a.onClose(func() { _ = p.Close() })
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", a.cfg.Events.Provider)
	}
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
