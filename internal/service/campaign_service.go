package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astronote/astronote-backend/internal/billing"
	apperrors "github.com/astronote/astronote-backend/internal/errors"
	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
	"github.com/astronote/astronote-backend/internal/template"
)

// EnqueueResult is what the enqueue API returns, both for a fresh dispatch
// and for an idempotent replay of an earlier one.
type EnqueueResult struct {
	CampaignID int64  `json:"campaign_id"`
	Status     string `json:"status"`
	Queued     int    `json:"queued"`
	Replayed   bool   `json:"replayed"`
}

// CampaignStatusView is the read-side projection for one campaign.
type CampaignStatusView struct {
	CampaignID int64               `json:"campaign_id"`
	Status     model.CampaignStatus `json:"status"`
	Total      int                 `json:"total"`
	Counts     model.MessageCounts `json:"counts"`
	Processed  int                 `json:"processed"`
}

type CampaignService struct {
	Campaigns   repository.CampaignRepositoryInterface
	Messages    repository.MessageRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Idempotency repository.IdempotencyRepositoryInterface
	Queue       queue.Queue
	Billing     billing.Gate
	Logger      *slog.Logger
}

func NewCampaignService(
	campaigns repository.CampaignRepositoryInterface,
	messages repository.MessageRepositoryInterface,
	contacts repository.ContactRepositoryInterface,
	idempotency repository.IdempotencyRepositoryInterface,
	q queue.Queue,
	gate billing.Gate,
	logger *slog.Logger,
) *CampaignService {
	return &CampaignService{
		Campaigns:   campaigns,
		Messages:    messages,
		Contacts:    contacts,
		Idempotency: idempotency,
		Queue:       q,
		Billing:     gate,
		Logger:      logger.With("component", "campaign-service"),
	}
}

// EnqueueCampaign admits a campaign into dispatch: it claims the sending
// status, materializes one message row per eligible recipient and publishes
// one send job per row. A non-empty idemKey makes the whole operation
// replay-safe across request retries.
func (s *CampaignService) EnqueueCampaign(ctx context.Context, campaignID, ownerID int64, idemKey string) (*EnqueueResult, error) {
	c, err := s.Campaigns.GetByIDForOwner(ctx, campaignID, ownerID)
	if err != nil {
		return nil, err
	}

	// The key lookup runs before the status gate so a retried request
	// whose first attempt flipped the campaign to sending still gets its
	// original result back instead of ALREADY_SENDING.
	if idemKey != "" {
		rec, err := s.Idempotency.Get(ctx, c.ID, idemKey)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			stale := c.FinishedAt != nil && c.FinishedAt.After(rec.CreatedAt) && c.Status.Admissible()
			if !stale {
				return &EnqueueResult{
					CampaignID: c.ID,
					Status:     string(c.Status),
					Queued:     rec.QueuedCount,
					Replayed:   true,
				}, nil
			}
			// The campaign finished a full cycle after this key was
			// minted and is admissible again, so the key is from a past
			// life and must not block a new dispatch.
			if err := s.Idempotency.Delete(ctx, c.ID, idemKey); err != nil {
				return nil, err
			}
		}
	}

	if c.Status == model.CampaignSending {
		return nil, apperrors.NewAlreadySending(c.ID)
	}
	if !c.Status.Admissible() {
		return nil, apperrors.NewInvalidStatus(c.ID, string(c.Status))
	}

	recipients, err := s.Contacts.ListSubscribed(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, apperrors.NewNoRecipients(c.ID)
	}

	if err := s.Billing.CanSend(ctx, ownerID, len(recipients)); err != nil {
		return nil, err
	}

	priorStatus := c.Status
	won, err := s.Campaigns.MarkSending(ctx, c.ID, priorStatus)
	if err != nil {
		return nil, err
	}
	if !won {
		fresh, err := s.Campaigns.GetByID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status == model.CampaignSending {
			return nil, apperrors.NewAlreadySending(c.ID)
		}
		return nil, apperrors.NewInvalidStatus(c.ID, string(fresh.Status))
	}

	msgs := make([]*model.CampaignMessage, 0, len(recipients))
	for _, contact := range recipients {
		id := c.ID
		msgs = append(msgs, &model.CampaignMessage{
			OwnerID:    ownerID,
			CampaignID: &id,
			ContactID:  contact.ID,
			To:         contact.Phone,
			Body:       template.Render(c.MessageText, contact),
			Status:     model.MessageQueued,
		})
	}
	if err := s.Messages.BulkCreate(ctx, msgs); err != nil {
		s.rollback(ctx, c.ID, priorStatus)
		return nil, fmt.Errorf("create campaign messages: %w", err)
	}
	if err := s.Campaigns.SetTotals(ctx, c.ID, len(msgs)); err != nil {
		s.rollback(ctx, c.ID, priorStatus)
		return nil, fmt.Errorf("set campaign totals: %w", err)
	}

	queued := 0
	for _, m := range msgs {
		p := queue.NewSendJob(m.ID, m.CampaignID, m.ContactID)
		if err := s.Queue.Enqueue(ctx, queue.SendQueue, p); err != nil {
			s.Logger.Error("enqueue send job failed",
				"campaign_id", c.ID, "message_id", m.ID, "err", err)
			continue
		}
		queued++
	}
	if queued == 0 {
		s.rollback(ctx, c.ID, priorStatus)
		return nil, fmt.Errorf("enqueue campaign %d: no jobs reached the queue", c.ID)
	}
	if queued < len(msgs) {
		// Partially published. The unpublished rows stay queued and the
		// reconciliation worker fails them once the queue drains.
		s.Logger.Warn("campaign partially enqueued",
			"campaign_id", c.ID, "queued", queued, "total", len(msgs))
	}

	if idemKey != "" {
		rec := &model.IdempotencyKey{CampaignID: c.ID, Key: idemKey, QueuedCount: queued}
		if err := s.Idempotency.Put(ctx, rec); err != nil {
			s.Logger.Error("store idempotency key failed", "campaign_id", c.ID, "err", err)
		}
	}

	s.Logger.Info("campaign enqueued", "campaign_id", c.ID, "owner_id", ownerID, "queued", queued)
	return &EnqueueResult{
		CampaignID: c.ID,
		Status:     string(model.CampaignSending),
		Queued:     queued,
	}, nil
}

// rollback undoes a claimed dispatch that never put a job on the queue.
func (s *CampaignService) rollback(ctx context.Context, campaignID int64, to model.CampaignStatus) {
	if err := s.Messages.DeleteByCampaign(ctx, campaignID); err != nil {
		s.Logger.Error("rollback: delete messages failed", "campaign_id", campaignID, "err", err)
	}
	if err := s.Campaigns.ResetAfterFailedEnqueue(ctx, campaignID, to); err != nil {
		s.Logger.Error("rollback: reset status failed", "campaign_id", campaignID, "err", err)
	}
}

func (s *CampaignService) GetCampaignStatus(ctx context.Context, campaignID, ownerID int64) (*CampaignStatusView, error) {
	c, err := s.Campaigns.GetByIDForOwner(ctx, campaignID, ownerID)
	if err != nil {
		return nil, err
	}
	counts, err := s.Messages.CountsForCampaign(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &CampaignStatusView{
		CampaignID: c.ID,
		Status:     c.Status,
		Total:      c.Total,
		Counts:     counts,
		Processed:  counts.Processed(),
	}, nil
}

func (s *CampaignService) PauseCampaign(ctx context.Context, campaignID, ownerID int64) error {
	return s.transitionForOwner(ctx, campaignID, ownerID, model.CampaignScheduled, model.CampaignPaused)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, campaignID, ownerID int64) error {
	return s.transitionForOwner(ctx, campaignID, ownerID, model.CampaignPaused, model.CampaignScheduled)
}

func (s *CampaignService) transitionForOwner(ctx context.Context, campaignID, ownerID int64, from, to model.CampaignStatus) error {
	c, err := s.Campaigns.GetByIDForOwner(ctx, campaignID, ownerID)
	if err != nil {
		return err
	}
	if c.Status != from {
		return apperrors.NewInvalidStatus(c.ID, string(c.Status))
	}
	won, err := s.Campaigns.TransitionStatus(ctx, c.ID, from, to)
	if err != nil {
		return err
	}
	if !won {
		fresh, err := s.Campaigns.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		return apperrors.NewInvalidStatus(c.ID, string(fresh.Status))
	}
	return nil
}
