package worker

import (
	"context"
	"log/slog"

	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
	"github.com/astronote/astronote-backend/internal/template"
)

// AutomationWorker turns a trigger event into a concrete message row plus
// a send job. Inactive automations and unsubscribed contacts are dropped
// silently; the poller enqueues at least once, this side filters.
type AutomationWorker struct {
	Automations repository.AutomationRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Messages    repository.MessageRepositoryInterface
	Queue       queue.Queue
	Logger      *slog.Logger
}

func (w *AutomationWorker) Handle(ctx context.Context, job *queue.AutomationTriggerJob) error {
	a, err := w.Automations.GetByID(ctx, job.AutomationID)
	if err != nil {
		return err
	}
	if a == nil || !a.Active {
		return nil
	}

	contact, err := w.Contacts.GetByID(ctx, job.ContactID)
	if err != nil {
		return err
	}
	if contact == nil || !contact.Subscribed {
		return nil
	}

	automationID := a.ID
	m := &model.CampaignMessage{
		OwnerID:      a.OwnerID,
		AutomationID: &automationID,
		ContactID:    contact.ID,
		To:           contact.Phone,
		Body:         template.Render(a.MessageText, contact),
		Status:       model.MessageQueued,
	}
	if err := w.Messages.Create(ctx, m); err != nil {
		return err
	}

	if err := w.Queue.Enqueue(ctx, queue.SendQueue, queue.NewSendJob(m.ID, nil, contact.ID)); err != nil {
		return err
	}

	if err := w.Automations.IncrementTriggered(ctx, a.ID); err != nil {
		w.Logger.Error("increment triggered count failed", "automation_id", a.ID, "err", err)
	}
	w.Logger.Info("automation triggered",
		"automation_id", a.ID, "contact_id", contact.ID, "event", job.Event)
	return nil
}
