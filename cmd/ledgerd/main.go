package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	"github.com/eduai/schoolledger/internal/accounting/balances"
	"github.com/eduai/schoolledger/internal/accounting/events"
	"github.com/eduai/schoolledger/internal/accounting/transactions"
	"github.com/eduai/schoolledger/internal/app"
	"github.com/eduai/schoolledger/internal/audit"
	audithttp "github.com/eduai/schoolledger/internal/audit/http"
	"github.com/eduai/schoolledger/internal/observability"
	"github.com/eduai/schoolledger/internal/platform/cache"
	"github.com/eduai/schoolledger/internal/platform/db"
	"github.com/eduai/schoolledger/internal/shared"
	"github.com/eduai/schoolledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	chartCache := accounts.NewRedisChartCache(redisClient, cfg.ChartCacheTTL)
	accountsService := accounts.NewService(accounts.NewRepository(dbpool), chartCache, auditLogger, logger)
	accountsService.WithRetries(cfg.ConflictRetries)

	ledger := balances.NewLedger(balances.NewRepository(dbpool), logger)

	policy := transactions.NewThresholdPolicy(cfg.AutoApproveLimit, cfg.AutoApproveCategories)
	transactionsService := transactions.NewService(transactions.NewRepository(dbpool), ledger, policy, logger)
	transactionsService.WithRetries(cfg.ConflictRetries)
	transactionsService.WithAudit(auditLogger)
	transactionsService.WithChartInvalidator(accountsService)
	transactionsService.WithMetrics(metrics)
	if cfg.KafkaEnabled() {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		transactionsService.WithPublisher(publisher)
	} else {
		logger.Info("kafka brokers not configured, ledger events disabled")
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		AccountsHandler:     accounts.NewHandler(logger, accountsService),
		BalancesHandler:     balances.NewHandler(logger, ledger),
		TransactionsHandler: transactions.NewHandler(logger, transactionsService, idempotencyStore),
		AuditHandler:        audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:          jobs.NewHandler(inspector, jobClient, logger),
		Database:            dbpool,
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
