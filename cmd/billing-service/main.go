package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	grpcapi "github.com/DadaSantana/jurispolicial-v2-sub001/internal/api/grpc"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/api/rest"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/api/rest/handlers"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/integration/asaas"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/metrics"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/middleware"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	mongorepo "github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository/mongo"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository/postgres"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/service"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/stripe"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

const webhookRetryBatch = 50

func main() {
	configPath := flag.String("config", "config.yml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.New(logger.ERROR).Fatalw("Failed to load configuration", "error", err)
	}

	log := initLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Infow("Billing service starting up...", "env", cfg.App.Env, "gateway", cfg.Gateway.Provider)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.HealthChecker{}

	// Пользователи и маппинги платежей в MongoDB
	mongoClient, err := mongorepo.New(ctx, cfg.Mongo, log)
	if err != nil {
		log.Fatalw("Failed to connect to MongoDB", "error", err)
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			log.Errorw("Error closing MongoDB connection", "error", err)
		}
	}()
	checks["mongo"] = mongorepo.Healthcheck(mongoClient)

	db := mongoClient.Database(cfg.Mongo.Database)
	mappingRepo := mongorepo.NewMappingRepository(db, log)
	if err := mappingRepo.EnsureIndexes(ctx); err != nil {
		log.Fatalw("Failed to create payment mapping indexes", "error", err)
	}

	var userRepo repository.UserRepository = mongorepo.NewUserRepository(db, log)

	// Redis: кеш пользователей и дедупликация вебхуков
	var deduper repository.EventDeduper
	redisCache, err := repository.NewRedisCache(cfg.Redis, log)
	if err != nil {
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		deduper = repository.NewInMemoryDeduper()
	} else {
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
		userRepo = repository.NewCachedUserRepository(userRepo, redisCache, log)
		deduper = redisCache
		checks["redis"] = redisCache.Ping
		log.Infow("Using cached user repository")
	}

	// Журнал вебхуков: PostgreSQL, если задан DSN
	var webhookRepo repository.WebhookEventRepository
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewConnection(ctx, cfg.Postgres, log)
		if err != nil {
			log.Fatalw("Failed to connect to PostgreSQL", "error", err)
		}
		defer pool.Close()

		pgRepo := postgres.NewWebhookEventRepository(pool, log)
		if err := pgRepo.Migrate(ctx); err != nil {
			log.Fatalw("Failed to migrate webhook event table", "error", err)
		}
		webhookRepo = pgRepo
		checks["postgres"] = pool.Ping
	} else {
		log.Warnw("Postgres DSN is empty, webhook audit log is kept in memory")
		webhookRepo = repository.NewInMemoryWebhookEventRepository(log)
	}

	// События плана в Kafka
	var producer kafka.Producer = kafka.NewNoopProducer(log)
	if cfg.Kafka.Enabled {
		topicsCtx, topicsCancel := context.WithTimeout(ctx, 15*time.Second)
		if err := kafka.EnsureKafkaTopics(topicsCtx, cfg.Kafka.Brokers, log); err != nil {
			log.Errorw("Failed to ensure Kafka topics", "error", err)
		}
		topicsCancel()
		kafkaProducer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		} else {
			producer = kafkaProducer
			log.Infow("Kafka producer initialized")
		}
	}
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorw("Error closing Kafka producer", "error", err)
		}
	}()

	registry := metrics.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, log)

	adapter := newGateway(cfg, log)
	gw := gateway.NewResilient(adapter, cfg.Gateway, billingMetrics, log)
	log.Infow("Payment gateway initialized", "provider", adapter.Name())

	deps := service.Deps{
		Users:    userRepo,
		Mappings: mappingRepo,
		Events:   producer,
		Metrics:  billingMetrics,
		Clock:    service.RealClock(),
		Log:      log,
	}
	casRetries := cfg.Reconciliation.CASRetries

	checkoutService := service.NewCheckoutService(deps, gw, cfg.Checkout, casRetries)
	reconciler := service.NewReconciler(deps, gw, cfg.Reconciliation)
	cancellationService := service.NewCancellationService(deps, gw, casRetries)
	planService := service.NewPlanService(deps, casRetries)
	webhookService := service.NewWebhookService(
		map[string]service.WebhookParser{adapter.Name(): adapter},
		reconciler,
		webhookRepo,
		deduper,
		deps,
		cfg.Webhook,
	)

	validator, err := newTokenValidator(ctx, cfg.Auth)
	if err != nil {
		log.Fatalw("Failed to initialize token validator", "provider", cfg.Auth.Provider, "error", err)
	}
	auth := middleware.NewAuthMiddleware(validator, userRepo, log)

	router := rest.SetupRouter(rest.Handlers{
		Health:   handlers.NewHealthHandler(checks),
		Checkout: handlers.NewCheckoutHandler(checkoutService, log),
		Plan:     handlers.NewPlanHandler(planService, reconciler, cancellationService, log),
		Webhook:  handlers.NewWebhookHandler(webhookService, log),
		Admin:    handlers.NewAdminHandler(reconciler, planService, webhookService, log),
	}, auth, registry, log)

	httpServer := rest.NewServer(router, cfg, log)
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	grpcChecks := make(map[string]grpcapi.Checker, len(checks))
	for name, check := range checks {
		grpcChecks[name] = grpcapi.Checker(check)
	}
	grpcServer := grpcapi.NewServer(cfg.GRPC, grpcChecks, log)
	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Fatalw("Failed to start gRPC server", "error", err)
		}
	}()

	go runEvery(ctx, cfg.Reconciliation.SweepInterval, func() {
		if _, err := reconciler.SweepPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Pending payment sweep failed", "error", err)
		}
	})

	go runEvery(ctx, cfg.Webhook.RetryInterval, func() {
		retried, err := webhookService.RetryFailed(ctx, webhookRetryBatch)
		if err != nil {
			log.Errorw("Webhook retry failed", "error", err)
			return
		}
		if retried > 0 {
			log.Infow("Retried failed webhook events", "count", retried)
		}
	})

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	// фоновые задачи останавливаются первыми
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	grpcServer.Stop()
	log.Infow("gRPC server gracefully stopped")

	log.Infow("Cleanup finished. Goodbye!")
}

func initLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.App.LogLevel)
	if cfg.IsProduction() {
		return logger.NewJSON(level)
	}
	return logger.New(level)
}

// newGateway создает адаптер выбранного провайдера без обертки устойчивости.
func newGateway(cfg *config.Config, log *logger.Logger) gateway.Gateway {
	switch cfg.Gateway.Provider {
	case config.GatewayStripe:
		return stripe.NewGateway(stripe.Config{
			APIKey:        cfg.Gateway.Stripe.APIKey,
			WebhookSecret: cfg.Gateway.Stripe.WebhookSecret,
			Currency:      cfg.Gateway.Stripe.Currency,
			PriceIDs:      cfg.Gateway.Stripe.PriceIDs,
		}, log)
	default:
		return asaas.NewClient(asaas.Config{
			BaseURL:      cfg.Gateway.Asaas.BaseURL,
			APIKey:       cfg.Gateway.Asaas.APIKey,
			WebhookToken: cfg.Gateway.Asaas.WebhookToken,
			Timeout:      cfg.Gateway.Timeout,
		}, log)
	}
}

func newTokenValidator(ctx context.Context, cfg config.AuthConfig) (middleware.TokenValidator, error) {
	switch cfg.Provider {
	case config.AuthFirebase:
		return middleware.NewFirebaseValidator(ctx, cfg)
	case config.AuthJWT:
		if cfg.JWTSecret == "" {
			return nil, errors.New("jwt secret is empty")
		}
		return middleware.NewJWTValidator(cfg.JWTSecret), nil
	}
	return nil, errors.New("unsupported auth provider")
}

// runEvery вызывает fn с интервалом до отмены ctx. Неположительный интервал отключает задачу.
func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
