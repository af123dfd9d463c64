package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astronote/astronote-backend/internal/billing"
	"github.com/astronote/astronote-backend/internal/config"
	"github.com/astronote/astronote-backend/internal/db"
	"github.com/astronote/astronote-backend/internal/lock"
	"github.com/astronote/astronote-backend/internal/provider"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
	"github.com/astronote/astronote-backend/internal/scheduler"
	"github.com/astronote/astronote-backend/internal/service"
	"github.com/astronote/astronote-backend/internal/worker"
)

// The dedicated worker process for WORKER_MODE=separate deployments. It
// runs the consumer pool and the cron producers, no HTTP API.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if !cfg.WorkersEnabled() {
		logger.Info("WORKER_MODE=off, nothing to run")
		return
	}

	database, err := db.Open(cfg.DSN())
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	configs := map[string]queue.Config{
		queue.SendQueue: {
			MaxAttempts: cfg.SendMaxAttempts,
			Backoff:     cfg.SendBackoff,
			RateJobs:    cfg.SendRateJobs,
			RatePeriod:  cfg.SendRatePeriod,
		},
		queue.SchedulerQueue: {
			MaxAttempts: 3,
			Backoff:     cfg.SendBackoff,
		},
	}
	var q queue.Queue
	if cfg.QueueDriver == "memory" {
		q = queue.NewMemory(configs, logger)
	} else {
		q, err = queue.NewAMQP(cfg.AMQPURL, configs, logger)
		if err != nil {
			logger.Error("queue setup failed", "err", err)
			os.Exit(1)
		}
	}
	defer q.Close()

	campaignRepo := &repository.CampaignRepository{DB: database}
	messageRepo := &repository.MessageRepository{DB: database}
	contactRepo := &repository.ContactRepository{DB: database}
	automationRepo := &repository.AutomationRepository{DB: database}
	idempotencyRepo := &repository.IdempotencyRepository{DB: database}

	var smsClient provider.Client
	if cfg.SMSProviderBaseURL == "" {
		logger.Warn("no SMS provider configured, using in-process fake")
		smsClient = provider.NewFake()
	} else {
		smsClient = provider.NewHTTPClient(cfg.SMSProviderBaseURL, cfg.SMSProviderAPIKey)
	}

	campaignService := service.NewCampaignService(
		campaignRepo, messageRepo, contactRepo, idempotencyRepo,
		q, &billing.WalletGate{DB: database}, logger,
	)

	locker := lock.NewRedisLocker(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	}))

	campaignWorker := &worker.CampaignWorker{
		Campaigns:             campaignRepo,
		Messages:              messageRepo,
		FailureRatioThreshold: cfg.FailureRatioThreshold,
		Logger:                logger,
	}
	sup := worker.NewSupervisor(worker.SupervisorConfig{
		Enabled:          true,
		Role:             cfg.LockRole,
		LockTTL:          cfg.LockTTL,
		SendConcurrency:  cfg.SendConcurrency,
		SchedConcurrency: cfg.SchedConcurrency,
		ShutdownGrace:    cfg.ShutdownGrace,
	}, locker, q, logger)
	sup.Send = &worker.SendWorker{
		Campaigns: campaignRepo,
		Messages:  messageRepo,
		Provider:  smsClient,
		Queue:     q,
		Logger:    logger,
	}
	sup.Campaign = campaignWorker
	sup.Automation = &worker.AutomationWorker{
		Automations: automationRepo,
		Contacts:    contactRepo,
		Messages:    messageRepo,
		Queue:       q,
		Logger:      logger,
	}
	sup.Delivery = &worker.DeliveryWorker{
		Messages:  messageRepo,
		Provider:  smsClient,
		Queue:     q,
		PollLimit: cfg.DeliveryPollLimit,
		OlderThan: cfg.DeliveryPollOlderThan,
		Spacing:   100 * time.Millisecond,
		Logger:    logger,
	}
	sup.Reconcile = &worker.ReconcileWorker{
		Campaigns:         campaignRepo,
		Messages:          messageRepo,
		Queue:             q,
		Finalizer:         campaignWorker,
		Idempotency:       idempotencyRepo,
		StuckSendingAfter: cfg.StuckSendingAfter,
		KeyRetention:      cfg.IdempotencyRetention,
		Logger:            logger,
	}
	// Producers run behind the same lock as the consumers: a replica that
	// loses the acquire race idles completely.
	sup.Cron = scheduler.New(scheduler.Config{
		LaunchInterval:     cfg.LaunchInterval,
		DeliveryInterval:   cfg.DeliveryInterval,
		AutomationInterval: cfg.AutomationInterval,
		ReconcileInterval:  cfg.ReconcileInterval,
	}, campaignRepo, contactRepo, automationRepo, campaignService, q, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup.Start(ctx)

	logger.Info("worker process running", "role", cfg.LockRole, "holder", sup.Holder())
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	sup.Stop(shutdownCtx)
}
