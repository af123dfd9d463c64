package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/astronote/astronote-backend/internal/provider"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
)

// DeliveryWorker asks the provider for verdicts on messages that were
// accepted but not yet confirmed. Polls are spaced out so a batch never
// bursts against the provider's status endpoint.
type DeliveryWorker struct {
	Messages  repository.MessageRepositoryInterface
	Provider  provider.Client
	Queue     queue.Queue
	PollLimit int
	OlderThan time.Duration
	Spacing   time.Duration
	Logger    *slog.Logger
}

func (w *DeliveryWorker) Handle(ctx context.Context) error {
	limit := w.PollLimit
	if limit <= 0 {
		limit = 50
	}
	spacing := w.Spacing
	if spacing <= 0 {
		spacing = 100 * time.Millisecond
	}

	msgs, err := w.Messages.ListSentForPoll(ctx, w.OlderThan, limit)
	if err != nil {
		return err
	}

	for i, m := range msgs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(spacing):
			}
		}

		state, err := w.Provider.PollStatus(ctx, *m.ProviderMessageID)
		if err != nil {
			w.Logger.Warn("delivery poll failed",
				"message_id", m.ID, "provider_message_id", *m.ProviderMessageID, "err", err)
			continue
		}

		switch state {
		case provider.StateDelivered:
			if err := w.Messages.MarkDelivered(ctx, m.ID); err != nil {
				return err
			}
		case provider.StateFailed:
			if err := w.Messages.MarkFailed(ctx, m.ID, "provider reported delivery failure"); err != nil {
				return err
			}
			// A sent-then-failed flip changes the campaign's terminal
			// counts, so the aggregates need a fresh pass.
			if m.CampaignID != nil {
				p := queue.NewTask(queue.TaskCampaignCheck, *m.CampaignID)
				if err := w.Queue.Enqueue(ctx, queue.SchedulerQueue, p); err != nil {
					w.Logger.Error("enqueue campaign check failed", "campaign_id", *m.CampaignID, "err", err)
				}
			}
		default:
			// Still pending or unknown, pick it up next cycle.
		}
	}
	return nil
}
