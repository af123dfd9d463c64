package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
)

// ReconcileWorker is the safety net behind the per-job bookkeeping: it
// finalizes campaigns whose check tasks were lost, fails messages whose
// jobs never came back, and unsticks messages abandoned mid-send by a
// crashed worker.
type ReconcileWorker struct {
	Campaigns   repository.CampaignRepositoryInterface
	Messages    repository.MessageRepositoryInterface
	Queue       queue.Queue
	Finalizer   *CampaignWorker
	Idempotency repository.IdempotencyRepositoryInterface
	// StuckSendingAfter bounds how long a message may sit in sending
	// before it is declared dead.
	StuckSendingAfter time.Duration
	// KeyRetention bounds idempotency key lifetime; expired replays fall
	// through to the campaign status gates. Zero means 24h.
	KeyRetention time.Duration
	Logger       *slog.Logger
}

func (w *ReconcileWorker) Handle(ctx context.Context) error {
	stuck, err := w.Messages.FailStuckSending(ctx, w.StuckSendingAfter, "send abandoned, worker lost")
	if err != nil {
		return err
	}
	if stuck > 0 {
		w.Logger.Warn("failed stuck sending messages", "count", stuck)
	}

	w.pruneIdempotencyKeys(ctx)

	campaigns, err := w.Campaigns.ListSending(ctx)
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		if err := w.reconcileCampaign(ctx, c); err != nil {
			w.Logger.Error("reconcile campaign failed", "campaign_id", c.ID, "err", err)
		}
	}
	return nil
}

func (w *ReconcileWorker) pruneIdempotencyKeys(ctx context.Context) {
	if w.Idempotency == nil {
		return
	}
	retention := w.KeyRetention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	pruned, err := w.Idempotency.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		w.Logger.Error("prune idempotency keys failed", "err", err)
		return
	}
	if pruned > 0 {
		w.Logger.Info("pruned expired idempotency keys", "count", pruned)
	}
}

func (w *ReconcileWorker) reconcileCampaign(ctx context.Context, c *model.Campaign) error {
	counts, err := w.Messages.CountsForCampaign(ctx, c.ID)
	if err != nil {
		return err
	}

	if c.Total > 0 && counts.Processed() >= c.Total {
		return w.Finalizer.finalize(ctx, c, counts)
	}

	if counts.Queued > 0 {
		depth, err := w.Queue.Depth(ctx, queue.SendQueue)
		if err != nil {
			return err
		}
		// Depth covers the whole send queue, so zero means no campaign
		// has jobs in flight and these queued rows can never be picked
		// up again.
		if depth == 0 {
			lost, err := w.Messages.FailQueuedForCampaign(ctx, c.ID, "job lost before dispatch")
			if err != nil {
				return err
			}
			w.Logger.Warn("force-failed orphaned queued messages",
				"campaign_id", c.ID, "count", lost)
			counts, err = w.Messages.CountsForCampaign(ctx, c.ID)
			if err != nil {
				return err
			}
			if c.Total > 0 && counts.Processed() >= c.Total {
				return w.Finalizer.finalize(ctx, c, counts)
			}
		}
	}

	return w.Campaigns.UpdateAggregates(ctx, c.ID, counts.Sent, counts.Failed)
}
