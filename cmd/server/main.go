package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/astronote/astronote-backend/internal/billing"
	"github.com/astronote/astronote-backend/internal/config"
	"github.com/astronote/astronote-backend/internal/db"
	"github.com/astronote/astronote-backend/internal/handler"
	"github.com/astronote/astronote-backend/internal/lock"
	"github.com/astronote/astronote-backend/internal/provider"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/repository"
	"github.com/astronote/astronote-backend/internal/scheduler"
	"github.com/astronote/astronote-backend/internal/service"
	"github.com/astronote/astronote-backend/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DSN())
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	q, err := buildQueue(cfg, logger)
	if err != nil {
		logger.Error("queue setup failed", "err", err)
		os.Exit(1)
	}
	defer q.Close()

	campaignRepo := &repository.CampaignRepository{DB: database}
	messageRepo := &repository.MessageRepository{DB: database}
	contactRepo := &repository.ContactRepository{DB: database}
	automationRepo := &repository.AutomationRepository{DB: database}
	idempotencyRepo := &repository.IdempotencyRepository{DB: database}

	smsClient := buildProvider(cfg, logger)

	campaignService := service.NewCampaignService(
		campaignRepo, messageRepo, contactRepo, idempotencyRepo,
		q, &billing.WalletGate{DB: database}, logger,
	)

	supervisor := buildSupervisor(cfg, campaignRepo, messageRepo,
		contactRepo, automationRepo, idempotencyRepo, smsClient, q, logger)
	// The producers ride along with the pool so the lock gates both: an
	// idle replica must not fire crons either.
	supervisor.Cron = scheduler.New(scheduler.Config{
		LaunchInterval:     cfg.LaunchInterval,
		DeliveryInterval:   cfg.DeliveryInterval,
		AutomationInterval: cfg.AutomationInterval,
		ReconcileInterval:  cfg.ReconcileInterval,
	}, campaignRepo, contactRepo, automationRepo, campaignService, q, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	campaignHandler := &handler.CampaignHandler{
		Service:    campaignService,
		Supervisor: supervisor,
		Queue:      q,
		Logger:     logger,
	}
	campaignHandler.Routes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr, "worker_mode", cfg.WorkerMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "err", err)
	}
	supervisor.Stop(shutdownCtx)
}

func buildQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
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
	if cfg.QueueDriver == "memory" {
		return queue.NewMemory(configs, logger), nil
	}
	return queue.NewAMQP(cfg.AMQPURL, configs, logger)
}

func buildProvider(cfg *config.Config, logger *slog.Logger) provider.Client {
	if cfg.SMSProviderBaseURL == "" {
		logger.Warn("no SMS provider configured, using in-process fake")
		return provider.NewFake()
	}
	return provider.NewHTTPClient(cfg.SMSProviderBaseURL, cfg.SMSProviderAPIKey)
}

func buildSupervisor(
	cfg *config.Config,
	campaignRepo repository.CampaignRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	contactRepo repository.ContactRepositoryInterface,
	automationRepo repository.AutomationRepositoryInterface,
	idempotencyRepo repository.IdempotencyRepositoryInterface,
	smsClient provider.Client,
	q queue.Queue,
	logger *slog.Logger,
) *worker.Supervisor {
	var locker lock.Locker
	if cfg.WorkerMode == config.ModeEmbedded || cfg.WorkerMode == config.ModeSeparate {
		locker = lock.NewRedisLocker(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		}))
	} else {
		locker = lock.NewMemoryLocker()
	}

	sup := worker.NewSupervisor(worker.SupervisorConfig{
		Enabled:          cfg.WorkerMode == config.ModeEmbedded,
		Role:             cfg.LockRole,
		LockTTL:          cfg.LockTTL,
		SendConcurrency:  cfg.SendConcurrency,
		SchedConcurrency: cfg.SchedConcurrency,
		ShutdownGrace:    cfg.ShutdownGrace,
	}, locker, q, logger)

	campaignWorker := &worker.CampaignWorker{
		Campaigns:             campaignRepo,
		Messages:              messageRepo,
		FailureRatioThreshold: cfg.FailureRatioThreshold,
		Logger:                logger,
	}
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
	return sup
}
