package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/admin"
)

var (
	triggerEnrichLimit           int
	triggerEnrichExcludeFailures bool
)

// triggerEnrichCmd runs the same read-only-quota bulk-enqueue flow as the
// admin HTTP endpoint, for ops running it from a cron job instead of curl.
var triggerEnrichCmd = &cobra.Command{
	Use:         "trigger-enrich",
	Short:       "Enqueue beers missing ABV for enrichment, bounded by daily/monthly quota",
	Annotations: map[string]string{"mode": "consume"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.admin.Trigger(ctx, admin.Request{
			Limit:           triggerEnrichLimit,
			ExcludeFailures: triggerEnrichExcludeFailures,
		})
		if err != nil {
			return err
		}

		zap.L().Info("trigger-enrich: done",
			zap.Bool("triggered", res.Triggered),
			zap.Int("enqueued", res.Enqueued),
			zap.String("reason", res.Reason),
		)
		return nil
	},
}

func init() {
	triggerEnrichCmd.Flags().IntVar(&triggerEnrichLimit, "limit", 0, "cap on beers enqueued (0 uses the configured batch limit)")
	triggerEnrichCmd.Flags().BoolVar(&triggerEnrichExcludeFailures, "exclude-failures", false, "skip beers currently sitting in the DLQ as pending")
	rootCmd.AddCommand(triggerEnrichCmd)
}
