package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// reconcileCmd 是 UNRESOLVED 订单的人工跟进入口，在前台同步执行一次完整对账
func reconcileCmd() *cobra.Command {
	var maxAttempts int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile <order-id>",
		Short: "Run reconciliation for one paid order in the foreground",
		Long: `Polls the fulfillment provider for a paid order until it reaches SUCCESS or FAILED,
or the attempt budget runs out. UNRESOLVED orders are resubmitted first (the provider
deduplicates by order id), so they can be retried this way at any time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if maxAttempts > 0 {
				cfg.Reconcile.MaxAttempts = maxAttempts
			}
			if interval > 0 {
				cfg.Reconcile.PollInterval = interval
			}

			id := args[0]
			fmt.Fprintf(cmd.OutOrStdout(), "Reconciling %s (max %d polls every %s)...\n",
				id, cfg.Reconcile.MaxAttempts, cfg.Reconcile.PollInterval)
			if err := container.NewReconciler().Reconcile(cmd.Context(), id); err != nil {
				return err
			}

			ctx, cancel := container.WithRequestTimeout(cmd.Context())
			defer cancel()
			order, err := container.Repo.FindByID(ctx, id)
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Override reconcile.max_attempts")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Override reconcile.poll_interval")
	return cmd
}
