package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vilca-glitch/shopify/internal/crawl"
	"github.com/vilca-glitch/shopify/internal/scrape"
	"github.com/vilca-glitch/shopify/internal/store"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <app-url>",
		Short: "Scrapes all reviews for one app listing",
		Long: `Creates a scrape job for the given app listing URL and runs it to
completion, following continuation tokens batch by batch.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	appURL := args[0]
	slug, err := scrape.SlugFromURL(appURL)
	if err != nil {
		return err
	}

	job := store.ScrapeJob{
		ID:         uuid.NewString(),
		TargetURL:  appURL,
		TargetSlug: slug,
		Status:     store.JobPending,
	}
	if err := a.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	a.logger.Info("job created", zap.String("job_id", job.ID), zap.String("slug", slug))

	res, err := a.orchestrator.Run(ctx, job.ID, 1)
	if err != nil {
		return err
	}
	for res.Status == crawl.StatusContinuing {
		res, err = a.orchestrator.Run(ctx, job.ID, res.NextPage)
		if err != nil {
			return err
		}
	}

	fmt.Printf("job %s completed: %d reviews across %d pages\n",
		job.ID, res.TotalReviews, res.TotalPages)
	return nil
}
