package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/sapphire/support-core/internal/api/http"
	"github.com/sapphire/support-core/internal/api/http/handlers"
	"github.com/sapphire/support-core/internal/auth"
	"github.com/sapphire/support-core/internal/clock"
	"github.com/sapphire/support-core/internal/config"
	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/entitlement"
	"github.com/sapphire/support-core/internal/events"
	"github.com/sapphire/support-core/internal/lock"
	"github.com/sapphire/support-core/internal/observability"
	"github.com/sapphire/support-core/internal/persistence"
	"github.com/sapphire/support-core/internal/repository"
	"github.com/sapphire/support-core/internal/repository/memory"
	"github.com/sapphire/support-core/internal/routing"
	"github.com/sapphire/support-core/internal/service"
	"github.com/sapphire/support-core/internal/worker"
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg, cfg.App)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	repos := buildRepositories(pg, logger)

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.LockBackendRedis {
		locker = lock.NewRedisLocker(redis.Client, cfg.Lock.Prefix, cfg.Lock.TTL, cfg.Lock.MaxWait, logger)
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	if cfg.Events.RedisChannel != "" {
		events.NewRedisPublisher(redis.Client, cfg.Events.RedisChannel, logger).Attach(dispatcher)
	}

	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	clk := clock.SystemClock{}
	resolver := entitlement.NewResolver(budgetOverrides(cfg.SLA.Budgets, logger))

	caseService := service.NewCaseService(service.CaseDependencies{
		CaseRepo:        repos.Cases,
		TenantRepo:      repos.Tenants,
		EventRepo:       repos.Events,
		OnboardingRepo:  repos.Onboarding,
		EntitlementRepo: repos.Entitlements,
		PolicyRepo:      repos.Policies,
		Resolver:        resolver,
		Locker:          locker,
		Clock:           clk,
		Dispatcher:      dispatcher,
		Metrics:         metrics,
		Logger:          logger,
	})
	slaService := service.NewSLAService(service.SLADependencies{
		CaseRepo:       repos.Cases,
		EventRepo:      repos.Events,
		OnboardingRepo: repos.Onboarding,
		Locker:         locker,
		Clock:          clk,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
	})
	onboardingService := service.NewOnboardingService(service.OnboardingDependencies{
		TenantRepo:      repos.Tenants,
		OnboardingRepo:  repos.Onboarding,
		EntitlementRepo: repos.Entitlements,
		PolicyRepo:      repos.Policies,
		Resolver:        resolver,
		Locker:          locker,
		Clock:           clk,
		Dispatcher:      dispatcher,
		Metrics:         metrics,
		Logger:          logger,
	})
	intakeService := service.NewIntakeService(service.IntakeDependencies{
		IntakeRepo:  repos.Intakes,
		TenantRepo:  repos.Tenants,
		CaseService: caseService,
		Router:      routing.NewRouter(cfg.Routing.ReviewThreshold, cfg.Routing.SelfServiceThreshold),
		Clock:       clk,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})

	var sweeper *worker.SLASweeper
	if cfg.SLA.SweepEnabled {
		sweeper = worker.NewSLASweeper(slaService, cfg.SLA.SweepSchedule, cfg.SLA.SweepBatchSize, metrics, logger)
		if err := sweeper.Start(); err != nil {
			logger.Fatal("failed to start sla sweeper", zap.Error(err))
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Cases:          handlers.NewCasesHandler(caseService, slaService),
		Onboarding:     handlers.NewOnboardingHandler(onboardingService),
		Intake:         handlers.NewIntakeHandler(intakeService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if sweeper != nil {
		stopCtx := sweeper.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("sla sweep did not finish before shutdown")
		}
	}
	_ = app.ShutdownWithTimeout(10 * time.Second)
}

// buildRepositories uses Postgres when a pool is configured and the in-memory store otherwise.
func buildRepositories(pg *persistence.Postgres, logger *zap.Logger) repository.Set {
	pool := pg.PoolHandle()
	if pool == nil {
		logger.Warn("using in-memory repositories; state is lost on restart")
		return memory.NewStore().Repositories()
	}
	return repository.NewPostgresSet(pool)
}

func budgetOverrides(raw map[string]config.TierBudget, logger *zap.Logger) map[domain.PlanTier]entitlement.Budget {
	out := make(map[domain.PlanTier]entitlement.Budget, len(raw))
	for name, b := range raw {
		tier, ok := domain.ParsePlanTier(name)
		if !ok {
			logger.Warn("ignoring budget for unknown tier", zap.String("tier", name))
			continue
		}
		out[tier] = entitlement.Budget{FirstResponseMinutes: b.FirstResponseMinutes, ResolutionMinutes: b.ResolutionMinutes}
	}
	return out
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
