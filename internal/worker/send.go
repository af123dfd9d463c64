package worker

import (
	"context"
	"log/slog"

	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/provider"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
)

// SendWorker dispatches one message to the SMS provider per job. The claim
// on the message row, not the job itself, is what guarantees at-most-one
// provider send under queue redelivery.
type SendWorker struct {
	Campaigns repository.CampaignRepositoryInterface
	Messages  repository.MessageRepositoryInterface
	Provider  provider.Client
	Queue     queue.Queue
	Logger    *slog.Logger
}

func (w *SendWorker) Handle(ctx context.Context, job *queue.SendJob) error {
	m, err := w.Messages.GetByID(ctx, job.MessageID)
	if err != nil {
		return err
	}
	if m == nil {
		w.Logger.Warn("send job for unknown message", "message_id", job.MessageID)
		return nil
	}
	if m.Status.Terminal() {
		return nil
	}

	if m.CampaignID != nil {
		c, err := w.Campaigns.GetByID(ctx, *m.CampaignID)
		if err != nil {
			return err
		}
		// A finished or rolled-back campaign may still have jobs in
		// flight. They must not reach the provider. Paused is not let
		// through either: it is only reachable from scheduled, so a
		// paused campaign cannot have legitimate jobs queued.
		if c.Status != model.CampaignSending {
			w.Logger.Warn("dropping send job, campaign no longer sending",
				"campaign_id", c.ID, "campaign_status", c.Status, "message_id", m.ID)
			if err := w.Messages.MarkFailed(ctx, m.ID, "campaign "+string(c.Status)); err != nil {
				return err
			}
			return nil
		}
	}

	claimed, err := w.Messages.ClaimForSend(ctx, m.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Redelivered job whose message someone already picked up.
		return nil
	}

	providerID, sendErr := w.Provider.Send(ctx, m.To, m.Body)
	if sendErr != nil {
		if provider.IsTransient(sendErr) {
			if err := w.Messages.ReleaseClaim(ctx, m.ID); err != nil {
				w.Logger.Error("release claim failed", "message_id", m.ID, "err", err)
			}
			return sendErr
		}
		if err := w.Messages.MarkFailed(ctx, m.ID, sendErr.Error()); err != nil {
			return err
		}
		w.Logger.Info("message failed permanently",
			"message_id", m.ID, "to", m.To, "err", sendErr)
		w.notifyCampaign(ctx, m)
		return nil
	}

	if err := w.Messages.MarkSent(ctx, m.ID, providerID); err != nil {
		return err
	}
	w.notifyCampaign(ctx, m)
	return nil
}

// notifyCampaign queues a bookkeeping pass after a terminal send outcome.
// Automation messages have no campaign to finalize.
func (w *SendWorker) notifyCampaign(ctx context.Context, m *model.CampaignMessage) {
	if m.CampaignID == nil {
		return
	}
	p := queue.NewTask(queue.TaskCampaignCheck, *m.CampaignID)
	if err := w.Queue.Enqueue(ctx, queue.SchedulerQueue, p); err != nil {
		w.Logger.Error("enqueue campaign check failed", "campaign_id", *m.CampaignID, "err", err)
	}
}
