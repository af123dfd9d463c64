package worker

import (
	"context"
	"log/slog"

	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/repository"
)

// CampaignWorker keeps campaign aggregates current and finalizes a
// campaign once every message reached a terminal outcome.
type CampaignWorker struct {
	Campaigns repository.CampaignRepositoryInterface
	Messages  repository.MessageRepositoryInterface
	// FailureRatioThreshold decides the final status: the campaign fails
	// only when failed/total reaches the threshold, otherwise partial
	// failures still count as completed.
	FailureRatioThreshold float64
	Logger                *slog.Logger
}

func (w *CampaignWorker) Handle(ctx context.Context, campaignID int64) error {
	c, err := w.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignSending {
		return nil
	}

	counts, err := w.Messages.CountsForCampaign(ctx, c.ID)
	if err != nil {
		return err
	}

	if c.Total > 0 && counts.Processed() >= c.Total {
		return w.finalize(ctx, c, counts)
	}
	return w.Campaigns.UpdateAggregates(ctx, c.ID, counts.Sent, counts.Failed)
}

func (w *CampaignWorker) finalize(ctx context.Context, c *model.Campaign, counts model.MessageCounts) error {
	status := model.CampaignCompleted
	if c.Total > 0 && float64(counts.Failed)/float64(c.Total) >= w.FailureRatioThreshold {
		status = model.CampaignFailed
	}
	won, err := w.Campaigns.Finalize(ctx, c.ID, status, counts.Sent, counts.Failed)
	if err != nil {
		return err
	}
	if won {
		w.Logger.Info("campaign finalized",
			"campaign_id", c.ID, "status", status, "sent", counts.Sent, "failed", counts.Failed)
	}
	return nil
}
