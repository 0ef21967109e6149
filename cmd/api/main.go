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

	httptransport "github.com/spec-kit/ticket-orchestrator/internal/api/http"
	"github.com/spec-kit/ticket-orchestrator/internal/api/http/handlers"
	"github.com/spec-kit/ticket-orchestrator/internal/assignment"
	"github.com/spec-kit/ticket-orchestrator/internal/auth"
	"github.com/spec-kit/ticket-orchestrator/internal/breaker"
	"github.com/spec-kit/ticket-orchestrator/internal/classifier"
	"github.com/spec-kit/ticket-orchestrator/internal/config"
	"github.com/spec-kit/ticket-orchestrator/internal/dedup"
	"github.com/spec-kit/ticket-orchestrator/internal/events"
	"github.com/spec-kit/ticket-orchestrator/internal/lock"
	"github.com/spec-kit/ticket-orchestrator/internal/observability"
	"github.com/spec-kit/ticket-orchestrator/internal/persistence"
	"github.com/spec-kit/ticket-orchestrator/internal/repository"
	"github.com/spec-kit/ticket-orchestrator/internal/scheduler"
	"github.com/spec-kit/ticket-orchestrator/internal/service"
	"github.com/spec-kit/ticket-orchestrator/internal/worker"
)

const shutdownGrace = 30 * time.Second

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
		agentRepo    repository.AgentRepository
		ticketRepo   repository.TicketRepository
		incidentRepo repository.IncidentRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		agentRepo = repository.NewAgentRepository(pool)
		ticketRepo = repository.NewTicketRepository(pool)
		incidentRepo = repository.NewIncidentRepository(pool)
	} else {
		pg = nil
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	monitor := service.NewMonitorService(dispatcher, metrics, logger)

	var forwarder *events.KafkaForwarder
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := events.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("failed to create kafka client", zap.Error(err))
		}
		defer client.Close()
		forwarder = events.NewKafkaForwarder(client, cfg.Kafka.Topic, logger)
	}

	classifierBreaker := breaker.New(breaker.Config{
		Name:             "classifier",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		LatencyThreshold: cfg.Breaker.LatencyThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		OnStateChange:    monitor.OnBreakerTransition,
	})
	gateway := classifier.NewGateway(
		classifier.NewHTTPClassifier(cfg.Classifier.URL),
		classifier.NewKeywordClassifier(cfg.Classifier.EmbeddingDim),
		classifierBreaker,
		logger,
	)

	dedupEngine := dedup.NewEngine(dedup.Config{
		Window:              cfg.Dedup.Window,
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		StormThreshold:      cfg.Dedup.StormThreshold,
		IncidentIdle:        cfg.Dedup.IncidentIdle,
	})

	var directory assignment.Directory
	if agentRepo != nil {
		directory = agentRepo
	}
	assigner := assignment.NewEngine(assignment.Config{Epsilon: cfg.Assignment.Epsilon}, directory, logger)
	if err := seedAgents(ctx, assigner, agentRepo, logger); err != nil {
		logger.Fatal("failed to seed agents", zap.Error(err))
	}

	orchestrator := service.NewOrchestrator(service.OrchestratorConfig{
		UrgencyThreshold: cfg.Notification.UrgencyThreshold,
		LockTTL:          cfg.Lock.TTL,
		IntakeBuffer:     cfg.Worker.IntakeBuffer,
	}, service.OrchestratorDependencies{
		Classifier: gateway,
		Locker:     lock.NewLocker(lock.NewRedisStore(redis.Client), cfg.Lock.KeyPrefix, cfg.Lock.TTL, logger),
		Dedup:      dedupEngine,
		Scheduler:  scheduler.New(),
		Assigner:   assigner,
		Statuses:   repository.NewTicketStatusRepository(redis.Client, cfg.Worker.ResultTTL),
		Tickets:    ticketRepo,
		Incidents:  incidentRepo,
		Dispatcher: dispatcher,
		Metrics:    metrics,
	}, logger)

	notifications := service.NewNotificationService(dispatcher, logger, metrics, cfg.Notification)
	worker.StartNotificationWorker(notifications, forwarder, dispatcher)

	pool := worker.NewPool(worker.PoolConfig{
		Processors:  cfg.Worker.Processors,
		Dispatchers: cfg.Worker.Dispatchers,
	}, orchestrator, logger)
	pool.Start(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(cfg.Auth, tokens)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, classifierBreaker),
		Tickets:        handlers.NewTicketsHandler(orchestrator),
		Incidents:      handlers.NewIncidentsHandler(dedupEngine, incidentRepo),
		Agents:         handlers.NewAgentsHandler(assigner),
		Ops:            handlers.NewOpsHandler(classifierBreaker, metrics, orchestrator, dedupEngine),
		Auth:           handlers.NewAuthHandler(authService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	orchestrator.Close()

	drained := make(chan error, 1)
	go func() { drained <- pool.Wait() }()
	select {
	case err := <-drained:
		if err != nil {
			logger.Warn("worker pool stopped with error", zap.Error(err))
		}
	case <-time.After(shutdownGrace):
		logger.Warn("drain timed out; abandoning queued tickets", zap.Int("queue_depth", orchestrator.QueueDepth()))
		cancel()
		<-drained
	}
	notifications.Wait()
	logger.Info("shutdown complete")
}

// seedAgents loads the roster from Postgres, falling back to the sample roster
// when no database is configured or the table is empty.
func seedAgents(ctx context.Context, engine *assignment.Engine, repo repository.AgentRepository, logger *zap.Logger) error {
	if repo != nil {
		agents, err := repo.List(ctx, repository.AgentFilter{})
		if err != nil {
			return err
		}
		if len(agents) > 0 {
			logger.Info("agent roster loaded", zap.Int("agents", len(agents)))
			return engine.Seed(agents)
		}
	}
	roster := assignment.DefaultRoster()
	for _, a := range roster {
		if _, err := engine.Register(ctx, a); err != nil {
			return err
		}
	}
	logger.Info("default agent roster seeded", zap.Int("agents", len(roster)))
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
