package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/idesk/helpdesk/internal/api/dto"
	httptransport "github.com/idesk/helpdesk/internal/api/http"
	"github.com/idesk/helpdesk/internal/api/http/handlers"
	"github.com/idesk/helpdesk/internal/auth"
	"github.com/idesk/helpdesk/internal/config"
	"github.com/idesk/helpdesk/internal/events"
	"github.com/idesk/helpdesk/internal/observability"
	"github.com/idesk/helpdesk/internal/persistence"
	"github.com/idesk/helpdesk/internal/repository"
	"github.com/idesk/helpdesk/internal/service"
	"github.com/idesk/helpdesk/internal/sla"
	"github.com/idesk/helpdesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var (
		ticketRepo  repository.TicketRepository
		historyRepo repository.TicketHistoryRepository
		policyRepo  repository.SLAPolicyRepository
	)
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		pool := pg.PoolHandle()
		ticketRepo = repository.NewTicketRepository(pool)
		historyRepo = repository.NewTicketHistoryRepository(pool)
		policyRepo = repository.NewSLAPolicyRepository(pool)
	} else {
		logger.Warn("running on in-memory repositories; data is lost on restart")
		ticketRepo = repository.NewMemoryTicketRepository()
		historyRepo = repository.NewMemoryHistoryRepository()
		policyRepo = repository.NewMemorySLAPolicyRepository()
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		classifications repository.ClassificationStore
		redisHealth     handlers.Pinger
	)
	if err != nil {
		logger.Warn("classification store falls back to memory")
		classifications = repository.NewMemoryClassificationStore(cfg.SLA.ClassificationTTL())
	} else {
		classifications = repository.NewRedisClassificationStore(redis.Client, cfg.SLA.ClassificationTTL())
		redisHealth = redis
	}

	store := sla.NewPolicyStore()
	policies := service.NewPolicyService(service.PolicyDependencies{
		Store:  store,
		Repo:   policyRepo,
		Logger: logger,
	})
	if err := policies.Bootstrap(ctx); err != nil {
		logger.Fatal("failed to load sla policies", zap.Error(err))
	}

	clock := sla.NewClock(store)
	tracker := sla.NewTracker(clock, logger)
	evaluator, err := sla.NewEvaluator(clock, sla.Thresholds{
		ResponseLead:   cfg.SLA.ResponseLeadPercent / 100,
		ResolutionLead: cfg.SLA.ResolutionLeadPercent / 100,
		Reminders:      cfg.SLA.Reminders(),
	})
	if err != nil {
		logger.Fatal("invalid sla thresholds", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()

	tickets := service.NewTicketSLAService(service.TicketSLADependencies{
		TicketRepo:      ticketRepo,
		HistoryRepo:     historyRepo,
		Clock:           clock,
		Tracker:         tracker,
		Evaluator:       evaluator,
		Classifications: classifications,
		Dispatcher:      dispatcher,
		Logger:          logger,
		StartOn:         cfg.SLA.StartOn,
		UpdateRetries:   cfg.SLA.UpdateRetries,
	})
	breaches := service.NewBreachService(service.BreachDependencies{
		TicketRepo:      ticketRepo,
		Evaluator:       evaluator,
		Classifications: classifications,
		Dispatcher:      dispatcher,
		Metrics:         metrics,
		Logger:          logger,
		BatchSize:       cfg.SLA.EvaluationBatchSize,
	})

	breachWorker := worker.NewBreachWorker(breaches, cfg.SLA.EvaluationSchedule, cfg.SLA.EvaluationTimeout(), logger)
	if err := breachWorker.Start(); err != nil {
		logger.Fatal("failed to start breach worker", zap.Error(err))
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	validator := dto.NewValidator()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redisHealth),
		Metrics:        handlers.NewMetricsHandler(metrics),
		Policies:       handlers.NewSLAPolicyHandler(policies, validator),
		Tickets:        handlers.NewTicketSLAHandler(tickets, validator),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	breachWorker.Stop(shutdownCtx)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
