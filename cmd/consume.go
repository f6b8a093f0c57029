package main

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taplist-enrich/internal/cleanup"
	"github.com/sells-group/taplist-enrich/internal/enrichment"
	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/queue"
)

var consumeCmd = &cobra.Command{
	Use:         "consume",
	Short:       "Drain the cleanup and enrichment queues",
	Annotations: map[string]string{"mode": "consume"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return a.cleanupQueue.Consume(gctx, cleanupHandler(a.cleanupP))
		})
		g.Go(func() error {
			return a.enrichQueue.Consume(gctx, enrichmentHandler(a.enrichP)(a.enrichQueue))
		})

		zap.L().Info("consume: started", zap.Int("cleanup_concurrency", cfg.Cleanup.MaxConcurrency))
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

// cleanupHandler adapts the cleanup pipeline's batch API to a single-message
// queue.Handler. Each delivery is processed as a batch of one; the
// pipeline's bounded-concurrency fan-out happens inside Memory's own
// worker pool instead.
func cleanupHandler(p *cleanup.Pipeline) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var cm model.CleanupMessage
		if err := json.Unmarshal(msg.Body, &cm); err != nil {
			return eris.Wrap(err, "consume: decode cleanup message")
		}

		outcomes, err := p.ProcessBatch(ctx, []model.CleanupMessage{cm})
		if err != nil {
			return err
		}
		if len(outcomes) == 0 || outcomes[0].Disposition == cleanup.DispositionRetry {
			return eris.New("cleanup: message requires retry")
		}
		return nil
	}
}

// enrichmentHandler adapts the enrichment pipeline to a queue.Handler. A
// retry disposition carries its own backoff (short for generic failures,
// much longer once perplexity starts returning 429s), so rather than let
// Memory's fixed visibility timeout decide, the handler re-enqueues itself
// with that exact delay and acks the original delivery.
func enrichmentHandler(p *enrichment.Pipeline) func(producer queue.Producer) queue.Handler {
	return func(producer queue.Producer) queue.Handler {
		return func(ctx context.Context, msg queue.Message) error {
			var em model.EnrichmentMessage
			if err := json.Unmarshal(msg.Body, &em); err != nil {
				return eris.Wrap(err, "consume: decode enrichment message")
			}

			outcome := p.ProcessBatch(ctx, []model.EnrichmentMessage{em})[0]
			if outcome.Disposition != enrichment.DispositionRetry {
				return nil
			}
			return producer.SendDelayed(ctx, msg.Body, int(outcome.RetryDelay.Seconds()))
		}
	}
}
