// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payout-service/config"
	"payout-service/internal/domain"
	"payout-service/internal/handler"
	"payout-service/internal/metrics"
	"payout-service/internal/provider"
	"payout-service/internal/provider/simulated"
	"payout-service/internal/provider/wise"
	"payout-service/internal/pub"
	"payout-service/internal/repository"
	"payout-service/internal/router"
	"payout-service/internal/security"
	"payout-service/internal/usecase"
	"payout-service/pkg/utils"
)

func main() {
	logger, err := buildLogger()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting payout service")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	// Database
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()
	logger.Info("connected to database", zap.String("database", cfg.Database.DBName))

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))

	// Kafka writer for status events
	kafkaWriter := pub.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.StatusTopic, logger)
	defer kafkaWriter.Close()
	logger.Info("kafka writer initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.StatusTopic))

	// Field encryption
	cipher, err := security.NewFieldCipher(cfg.Payout.EncryptionKey)
	if err != nil {
		logger.Fatal("failed to initialize field encryption", zap.Error(err))
	}

	m := metrics.NewMetrics("payout_service")
	idGen := utils.NewIDGenerator()

	// Repositories
	payoutRepo := repository.NewPayoutRepository(dbPool)
	bankRepo := repository.NewBankAccountRepository(dbPool)
	profileRepo := repository.NewProfileRepository(dbPool)
	balanceRepo := repository.NewBalanceRepository(dbPool)
	eventRepo := repository.NewWebhookEventRepository(redisClient)

	// Providers. Wise carries the allowlisted corridors; the simulated
	// provider backs the generic bank_transfer method until a second real
	// rail is contracted.
	providers := map[domain.PayoutMethod]provider.TransferProvider{
		domain.MethodWise:         wise.NewClient(cfg.Wise, logger),
		domain.MethodBankTransfer: simulated.New(0, 0),
	}

	// Publishers
	publisher := pub.NewStatusPublisher(kafkaWriter, logger)

	// Usecases
	resolver := usecase.NewRouteResolver(profileRepo, bankRepo, cipher, logger)
	bankFetcher := usecase.NewBankAccountFetcher(bankRepo, cipher, logger)
	payoutUC := usecase.NewPayoutUsecase(
		payoutRepo, balanceRepo, profileRepo, resolver, bankFetcher,
		providers, publisher, m, idGen, cfg, logger,
	)
	batchUC := usecase.NewBatchUsecase(payoutUC, m, idGen, cfg, logger)
	reconcileUC := usecase.NewReconcileUsecase(
		payoutRepo, balanceRepo, eventRepo,
		providers, publisher, m, cfg, logger,
	)

	// Handlers
	payoutHandler := handler.NewPayoutHandler(payoutUC, batchUC, logger)
	webhookHandler := handler.NewWebhookHandler(reconcileUC, cfg.Wise.WebhookSecret, logger)

	readyCheck := func(ctx context.Context) error {
		if err := dbPool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := eventRepo.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}

	r := router.SetupRoutes(payoutHandler, webhookHandler, readyCheck, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Reconciliation poller catches payouts whose webhooks never arrived.
	reconcileCtx, stopReconcile := context.WithCancel(context.Background())
	go reconcileUC.Run(reconcileCtx)

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("payout service started successfully",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopReconcile()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "development" || os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
