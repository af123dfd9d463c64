package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/astronote/astronote-backend/internal/lock"
	"github.com/astronote/astronote-backend/internal/queue"
)

type SupervisorConfig struct {
	Enabled          bool
	Role             string
	LockTTL          time.Duration
	SendConcurrency  int
	SchedConcurrency int
	ShutdownGrace    time.Duration
}

// CronRunner is the producer set paired with the pool. It must only run
// while this process holds the worker lock: the automation pollers and the
// birthday run have no admission gate of their own, so a second active
// instance doubles every trigger it produces.
type CronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Supervisor runs the worker pool and the cron producers behind the
// distributed lock. At most one process per role consumes the queues and
// produces triggers; the rest idle and keep trying to take over, so a
// crashed holder is replaced within one lock TTL.
type Supervisor struct {
	cfg    SupervisorConfig
	locker lock.Locker
	queue  queue.Queue
	logger *slog.Logger

	Send       *SendWorker
	Campaign   *CampaignWorker
	Automation *AutomationWorker
	Delivery   *DeliveryWorker
	Reconcile  *ReconcileWorker
	Cron       CronRunner

	holder    string
	running   atomic.Bool
	holdsLock atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, locker lock.Locker, q queue.Queue, logger *slog.Logger) *Supervisor {
	if cfg.SendConcurrency < 1 {
		cfg.SendConcurrency = 1
	}
	if cfg.SchedConcurrency < 1 {
		cfg.SchedConcurrency = 1
	}
	return &Supervisor{
		cfg:    cfg,
		locker: locker,
		queue:  q,
		logger: logger.With("component", "supervisor"),
		holder: uuid.NewString(),
	}
}

// Holder is this process's lock token.
func (s *Supervisor) Holder() string { return s.holder }

// Running reports whether consumers are currently active in this process.
func (s *Supervisor) Running() bool { return s.running.Load() }

// HoldsLock reports whether this process currently owns the worker lock.
func (s *Supervisor) HoldsLock() bool { return s.holdsLock.Load() }

// Start launches the acquire loop and returns immediately. A process that
// cannot win the lock is healthy, it just runs no workers.
func (s *Supervisor) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("workers disabled by mode")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	retry := s.cfg.LockTTL / 2

	for {
		won, err := s.locker.Acquire(ctx, s.cfg.Role, s.holder, s.cfg.LockTTL)
		if err != nil {
			s.logger.Error("lock acquire failed", "role", s.cfg.Role, "err", err)
		} else if won {
			s.logger.Info("worker lock acquired", "role", s.cfg.Role, "holder", s.holder)
			s.holdsLock.Store(true)
			s.consumeUntilLost(ctx)
			s.release()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// consumeUntilLost runs the consumers and the cron producers until the
// parent context ends or the lock refresh stops succeeding.
func (s *Supervisor) consumeUntilLost(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.running.Store(true)
	defer s.running.Store(false)

	if s.Cron != nil {
		if err := s.Cron.Start(cctx); err != nil {
			s.logger.Error("cron producers failed to start", "err", err)
		} else {
			defer s.Cron.Stop()
		}
	}

	g, gctx := errgroup.WithContext(cctx)
	g.Go(func() error {
		return s.queue.Consume(gctx, queue.SendQueue, s.cfg.SendConcurrency, s.dispatchSend)
	})
	g.Go(func() error {
		return s.queue.Consume(gctx, queue.SchedulerQueue, s.cfg.SchedConcurrency, s.dispatchScheduler)
	})
	g.Go(func() error {
		return s.refreshLoop(gctx, cancel)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		s.logger.Error("worker pool stopped", "err", err)
	}
}

func (s *Supervisor) refreshLoop(ctx context.Context, lost context.CancelFunc) error {
	ticker := time.NewTicker(s.cfg.LockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, err := s.locker.Refresh(ctx, s.cfg.Role, s.holder, s.cfg.LockTTL)
			if err != nil {
				s.logger.Error("lock refresh failed", "role", s.cfg.Role, "err", err)
				continue
			}
			if !ok {
				s.logger.Warn("worker lock lost, stopping consumers",
					"role", s.cfg.Role, "holder", s.holder)
				lost()
				return nil
			}
		}
	}
}

// release gives the lock back so another process can take over at once.
// Token-checked on the locker side: a lock already lost to someone else is
// left alone.
func (s *Supervisor) release() {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Release(releaseCtx, s.cfg.Role, s.holder); err != nil {
		s.logger.Error("lock release failed", "role", s.cfg.Role, "err", err)
	}
	s.holdsLock.Store(false)
}

// Stop shuts the pool down, waiting up to the grace period for in-flight
// jobs. The run loop releases the lock on its way out.
func (s *Supervisor) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.cancel()

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-s.done:
	case <-time.After(grace):
		s.logger.Warn("shutdown grace elapsed, abandoning in-flight jobs")
	}
}

func (s *Supervisor) dispatchSend(ctx context.Context, p queue.Payload) error {
	switch p.Kind {
	case queue.KindSend:
		return s.Send.Handle(ctx, p.Send)
	case queue.KindAutomation:
		return s.Automation.Handle(ctx, p.Automation)
	default:
		s.logger.Warn("unexpected payload on send queue", "kind", p.Kind)
		return nil
	}
}

func (s *Supervisor) dispatchScheduler(ctx context.Context, p queue.Payload) error {
	if p.Kind != queue.KindTask {
		s.logger.Warn("unexpected payload on scheduler queue", "kind", p.Kind)
		return nil
	}
	switch p.Task.Name {
	case queue.TaskCampaignCheck:
		return s.Campaign.Handle(ctx, p.Task.CampaignID)
	case queue.TaskPollDelivery:
		return s.Delivery.Handle(ctx)
	case queue.TaskReconcile:
		return s.Reconcile.Handle(ctx)
	default:
		s.logger.Warn("unknown scheduler task", "task", p.Task.Name)
		return nil
	}
}
