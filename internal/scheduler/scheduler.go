// Package scheduler hosts the cron-driven producers: launching due
// campaigns, ticking the delivery and reconcile tasks, and polling for
// automation trigger events.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	apperrors "github.com/astronote/astronote-backend/internal/errors"
	"github.com/astronote/astronote-backend/internal/model"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
	"github.com/astronote/astronote-backend/internal/service"
)

const (
	launchBatchSize = 50
	eventBatchSize  = 200

	checkpointWelcome = "welcome"
	checkpointOrders  = "orders"
)

type Config struct {
	LaunchInterval     time.Duration
	DeliveryInterval   time.Duration
	AutomationInterval time.Duration
	ReconcileInterval  time.Duration
}

// CampaignLauncher is the slice of the campaign service the launcher uses.
type CampaignLauncher interface {
	EnqueueCampaign(ctx context.Context, campaignID, ownerID int64, idemKey string) (*service.EnqueueResult, error)
}

type Scheduler struct {
	cfg         Config
	cron        *cron.Cron
	campaigns   repository.CampaignRepositoryInterface
	contacts    repository.ContactRepositoryInterface
	automations repository.AutomationRepositoryInterface
	service     CampaignLauncher
	queue       queue.Queue
	logger      *slog.Logger

	baseCtx    context.Context
	registered bool
	now        func() time.Time
}

func New(
	cfg Config,
	campaigns repository.CampaignRepositoryInterface,
	contacts repository.ContactRepositoryInterface,
	automations repository.AutomationRepositoryInterface,
	svc CampaignLauncher,
	q queue.Queue,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		cron:        cron.New(cron.WithLocation(time.UTC)),
		campaigns:   campaigns,
		contacts:    contacts,
		automations: automations,
		service:     svc,
		queue:       q,
		logger:      logger.With("component", "scheduler"),
		now:         time.Now,
	}
}

func every(d time.Duration) string { return fmt.Sprintf("@every %s", d) }

// Start runs the cron entries until ctx ends. The supervisor starts it
// only while this process holds the worker lock and calls it again on the
// next win, so registration happens once and the cron restarts cleanly.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	if !s.registered {
		entries := []struct {
			spec string
			name string
			run  func(context.Context)
		}{
			{every(s.cfg.LaunchInterval), "launch-due-campaigns", s.launchDueCampaigns},
			{every(s.cfg.DeliveryInterval), "poll-delivery", s.tickTask(queue.TaskPollDelivery)},
			{every(s.cfg.AutomationInterval), "poll-automation-events", s.pollAutomationEvents},
			{every(s.cfg.ReconcileInterval), "reconcile", s.tickTask(queue.TaskReconcile)},
			// Midnight UTC, then filtered per owner timezone inside the run.
			{"0 0 * * *", "birthday-automations", s.runBirthdays},
		}
		for _, e := range entries {
			e := e
			if _, err := s.cron.AddFunc(e.spec, func() { s.runJob(e.name, e.run) }); err != nil {
				return fmt.Errorf("schedule %s: %w", e.name, err)
			}
		}
		s.registered = true
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	return nil
}

// Stop blocks until any in-flight cron run returns.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runJob(name string, run func(context.Context)) {
	ctx, cancel := context.WithTimeout(s.baseCtx, 5*time.Minute)
	defer cancel()
	s.logger.Debug("cron job running", "job", name)
	run(ctx)
}

// launchDueCampaigns enqueues every scheduled campaign whose time has come.
// The key is minted here: retries of the same campaign inside one run are
// idempotent, while a campaign that cycles back to scheduled gets a fresh
// dispatch next time.
func (s *Scheduler) launchDueCampaigns(ctx context.Context) {
	due, err := s.campaigns.ListDueScheduled(ctx, s.now(), launchBatchSize)
	if err != nil {
		s.logger.Error("list due campaigns failed", "err", err)
		return
	}

	for _, c := range due {
		res, err := s.service.EnqueueCampaign(ctx, c.ID, c.OwnerID, uuid.NewString())
		if err != nil {
			// Admission errors are expected when a manual enqueue or a
			// concurrent scheduler instance got there first.
			if code := apperrors.CodeOf(err); code != "" {
				s.logger.Warn("scheduled campaign not admitted",
					"campaign_id", c.ID, "code", code, "err", err)
			} else {
				s.logger.Error("launch campaign failed", "campaign_id", c.ID, "err", err)
			}
			continue
		}
		s.logger.Info("scheduled campaign launched", "campaign_id", c.ID, "queued", res.Queued)
	}
}

func (s *Scheduler) tickTask(name string) func(context.Context) {
	return func(ctx context.Context) {
		if err := s.queue.Enqueue(ctx, queue.SchedulerQueue, queue.NewTask(name, 0)); err != nil {
			s.logger.Error("enqueue scheduler task failed", "task", name, "err", err)
		}
	}
}

// pollAutomationEvents scans each tenant's new contacts and order events
// past the stored checkpoint and enqueues trigger jobs. The checkpoint
// only advances after the jobs are on the queue, so a crash replays rather
// than drops; the automation worker tolerates duplicates.
func (s *Scheduler) pollAutomationEvents(ctx context.Context) {
	owners, err := s.automations.OwnersWithActive(ctx)
	if err != nil {
		s.logger.Error("list automation owners failed", "err", err)
		return
	}

	for _, ownerID := range owners {
		if err := s.pollWelcome(ctx, ownerID); err != nil {
			s.logger.Error("welcome poll failed", "owner_id", ownerID, "err", err)
		}
		if err := s.pollOrders(ctx, ownerID); err != nil {
			s.logger.Error("order poll failed", "owner_id", ownerID, "err", err)
		}
	}
}

func (s *Scheduler) pollWelcome(ctx context.Context, ownerID int64) error {
	since, err := s.automations.GetCheckpoint(ctx, ownerID, checkpointWelcome)
	if err != nil {
		return err
	}
	if since.IsZero() {
		// First run for this owner: start from now, no backfill.
		return s.automations.SetCheckpoint(ctx, ownerID, checkpointWelcome, s.now())
	}

	rules, err := s.automations.ListActiveByTrigger(ctx, ownerID, model.TriggerWelcome)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	contacts, err := s.contacts.ListCreatedAfter(ctx, ownerID, since)
	if err != nil {
		return err
	}

	latest := since
	for _, contact := range contacts {
		for _, a := range rules {
			p := queue.NewAutomationTrigger(a.ID, contact.ID, string(model.TriggerWelcome), contact.CreatedAt)
			if err := s.queue.Enqueue(ctx, queue.SendQueue, p); err != nil {
				return err
			}
		}
		if contact.CreatedAt.After(latest) {
			latest = contact.CreatedAt
		}
	}
	if latest.After(since) {
		return s.automations.SetCheckpoint(ctx, ownerID, checkpointWelcome, latest)
	}
	return nil
}

func (s *Scheduler) pollOrders(ctx context.Context, ownerID int64) error {
	since, err := s.automations.GetCheckpoint(ctx, ownerID, checkpointOrders)
	if err != nil {
		return err
	}
	if since.IsZero() {
		return s.automations.SetCheckpoint(ctx, ownerID, checkpointOrders, s.now())
	}

	events, err := s.automations.ListOrderEventsAfter(ctx, ownerID, since, eventBatchSize)
	if err != nil {
		return err
	}

	latest := since
	for _, e := range events {
		rules, err := s.automations.ListActiveByTrigger(ctx, ownerID, e.Kind)
		if err != nil {
			return err
		}
		for _, a := range rules {
			p := queue.NewAutomationTrigger(a.ID, e.ContactID, string(e.Kind), e.OccurredAt)
			if err := s.queue.Enqueue(ctx, queue.SendQueue, p); err != nil {
				return err
			}
		}
		if e.OccurredAt.After(latest) {
			latest = e.OccurredAt
		}
	}
	if latest.After(since) {
		return s.automations.SetCheckpoint(ctx, ownerID, checkpointOrders, latest)
	}
	return nil
}

// runBirthdays fires birthday automations for contacts whose month and day
// match today in the owner's timezone.
func (s *Scheduler) runBirthdays(ctx context.Context) {
	owners, err := s.automations.OwnersWithActive(ctx)
	if err != nil {
		s.logger.Error("list automation owners failed", "err", err)
		return
	}

	for _, ownerID := range owners {
		rules, err := s.automations.ListActiveByTrigger(ctx, ownerID, model.TriggerBirthday)
		if err != nil {
			s.logger.Error("list birthday automations failed", "owner_id", ownerID, "err", err)
			continue
		}
		if len(rules) == 0 {
			continue
		}

		month, day := s.ownerLocalDate(ctx, ownerID)
		contacts, err := s.contacts.ListBirthdayCandidates(ctx, ownerID, month, day)
		if err != nil {
			s.logger.Error("list birthday candidates failed", "owner_id", ownerID, "err", err)
			continue
		}

		for _, contact := range contacts {
			for _, a := range rules {
				p := queue.NewAutomationTrigger(a.ID, contact.ID, string(model.TriggerBirthday), s.now())
				if err := s.queue.Enqueue(ctx, queue.SendQueue, p); err != nil {
					s.logger.Error("enqueue birthday trigger failed",
						"automation_id", a.ID, "contact_id", contact.ID, "err", err)
				}
			}
		}
	}
}

func (s *Scheduler) ownerLocalDate(ctx context.Context, ownerID int64) (time.Month, int) {
	loc := time.UTC
	settings, err := s.contacts.GetOwnerSettings(ctx, ownerID)
	if err != nil {
		s.logger.Warn("load owner settings failed, using UTC", "owner_id", ownerID, "err", err)
	} else if settings != nil && settings.Timezone != "" {
		if l, err := time.LoadLocation(settings.Timezone); err == nil {
			loc = l
		} else {
			s.logger.Warn("invalid owner timezone, using UTC",
				"owner_id", ownerID, "timezone", settings.Timezone)
		}
	}
	local := s.now().In(loc)
	return local.Month(), local.Day()
}
