package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vilca-glitch/shopify/internal/store"
)

func newAgentsCmd() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Runs recurring agents",
		Long: `Runs every active agent due today, or a single agent when --agent is
given. Each run scrapes the agent's target and pushes the review delta to
its webhook.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.runner.RunDue(ctx, agentID)
			if err != nil {
				return err
			}
			failed := 0
			for _, res := range results {
				fmt.Printf("agent %s: %s (%d reviews pushed) %s\n",
					res.AgentID, res.Status, res.ReviewsPushed, res.Message)
				if res.Status == store.RunFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d agent runs failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "run a single agent by id")
	return cmd
}
