// Package dlq implements the dead-letter subsystem (spec.md §4.7): ingest
// of exhausted-retry messages, a claim/replay/acknowledge state machine,
// read-only listing and stats, and a scheduled purge of old terminal rows.
package dlq

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/store"
)

const (
	maxReplayBatch      = 50
	maxAcknowledgeBatch = 100
	purgeBatchSize      = 1000
	rawMessageLogLimit  = 500
)

// Subsystem wires the store and per-queue producers the dead-letter
// workflow needs to replay a message back onto its originating queue.
type Subsystem struct {
	store     store.Store
	producers map[model.SourceQueue]queue.Producer
	now       func() time.Time
}

// New builds a Subsystem. producers must have an entry for every
// model.SourceQueue value a message can be ingested under.
func New(s store.Store, producers map[model.SourceQueue]queue.Producer) *Subsystem {
	return &Subsystem{store: s, producers: producers, now: time.Now}
}

// Ingest records one exhausted-retry message as a pending DLQ row. Raw
// message bodies are truncated in logs (never in storage) to keep ingest
// failures from flooding structured logs with full payloads.
func (s *Subsystem) Ingest(ctx context.Context, entry model.DlqMessage) error {
	entry.Status = model.DlqStatusPending
	if err := s.store.IngestDLQ(ctx, entry); err != nil {
		zap.L().Error("dlq: ingest failed",
			zap.String("message_id", entry.MessageID),
			zap.String("raw_message", truncateForLog(entry.RawMessage)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func truncateForLog(raw string) string {
	if len(raw) <= rawMessageLogLimit {
		return raw
	}
	return raw[:rawMessageLogLimit] + "... [truncated]"
}

// ReplayResult reports how many claimed rows were successfully re-enqueued.
type ReplayResult struct {
	Replayed int
	Failed   int
}

// Replay claims up to maxReplayBatch of the given ids, re-enqueues each
// claimed row onto its originating queue (optionally with a delay), and
// marks it replayed on success or rolls it back to pending on failure so a
// later call can retry it.
func (s *Subsystem) Replay(ctx context.Context, ids []int64, delaySeconds int) (ReplayResult, error) {
	if len(ids) > maxReplayBatch {
		ids = ids[:maxReplayBatch]
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}

	claimed, err := s.store.ClaimDlqForReplay(ctx, ids)
	if err != nil {
		return ReplayResult{}, eris.Wrap(err, "dlq: claim for replay")
	}

	var result ReplayResult
	var replayedIDs, rolledBackIDs []int64

	for _, c := range claimed {
		producer, ok := s.producers[c.SourceQueue]
		if !ok {
			zap.L().Error("dlq: no producer for source queue", zap.String("source_queue", string(c.SourceQueue)))
			rolledBackIDs = append(rolledBackIDs, c.ID)
			result.Failed++
			continue
		}

		var sendErr error
		if delaySeconds > 0 {
			sendErr = producer.SendDelayed(ctx, []byte(c.RawMessage), delaySeconds)
		} else {
			sendErr = producer.Send(ctx, []byte(c.RawMessage))
		}

		if sendErr != nil {
			zap.L().Warn("dlq: replay enqueue failed", zap.Int64("id", c.ID), zap.Error(sendErr))
			rolledBackIDs = append(rolledBackIDs, c.ID)
			result.Failed++
			continue
		}

		replayedIDs = append(replayedIDs, c.ID)
		result.Replayed++
	}

	if len(replayedIDs) > 0 {
		if err := s.store.MarkReplayed(ctx, replayedIDs, s.now()); err != nil {
			return result, eris.Wrap(err, "dlq: mark replayed")
		}
	}
	if len(rolledBackIDs) > 0 {
		if err := s.store.RollbackDlq(ctx, rolledBackIDs); err != nil {
			return result, eris.Wrap(err, "dlq: rollback")
		}
	}

	return result, nil
}

// Acknowledge permanently resolves up to maxAcknowledgeBatch DLQ rows
// without replaying them, for failures an operator has decided not to
// retry (e.g. a beer that no longer exists upstream).
func (s *Subsystem) Acknowledge(ctx context.Context, ids []int64) error {
	if len(ids) > maxAcknowledgeBatch {
		ids = ids[:maxAcknowledgeBatch]
	}
	return s.store.MarkAcknowledged(ctx, ids, s.now())
}

// List returns a page of DLQ rows matching filter.
func (s *Subsystem) List(ctx context.Context, filter store.DlqFilter) (*store.DlqListResult, error) {
	return s.store.ListDlq(ctx, filter)
}

// Stats returns the aggregate dead-letter-queue health snapshot.
func (s *Subsystem) Stats(ctx context.Context) (*store.DlqStats, error) {
	return s.store.DlqStatsSnapshot(ctx)
}

// Purge deletes acknowledged/replayed rows older than olderThan, in batches
// of purgeBatchSize, stopping once a batch comes back smaller than that —
// i.e. there's nothing left to purge.
func (s *Subsystem) Purge(ctx context.Context, status model.DlqStatus, olderThan time.Time) (int, error) {
	total := 0
	for {
		n, err := s.store.PurgeDlq(ctx, status, olderThan, purgeBatchSize)
		if err != nil {
			return total, eris.Wrap(err, "dlq: purge")
		}
		total += n
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
