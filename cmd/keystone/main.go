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

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/keystone-erp/keystone-erp/internal/accounting"
	"github.com/keystone-erp/keystone-erp/internal/app"
	"github.com/keystone-erp/keystone-erp/internal/ledger"
	"github.com/keystone-erp/keystone-erp/internal/openledger"
	"github.com/keystone-erp/keystone-erp/internal/platform/db"
	"github.com/keystone-erp/keystone-erp/internal/posting"
	"github.com/keystone-erp/keystone-erp/internal/shared"
	"github.com/keystone-erp/keystone-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	mappings, err := accounting.LoadMappings(ctx, pool)
	if err != nil {
		logger.Error("load account mappings", slog.Any("error", err))
		os.Exit(1)
	}
	if err := mappings.ValidateSet(posting.RequiredMappingKeys()); err != nil {
		logger.Error("account mappings incomplete", slog.Any("error", err))
		os.Exit(1)
	}

	engine := ledger.NewEngine()
	auditLogger := shared.NewAuditLogger(pool)
	terms := shared.NewContactTerms(pool)

	postingRepo := posting.NewRepository(pool)
	postingService := posting.NewService(postingRepo, engine, mappings, auditLogger, terms)
	postingHandler := posting.NewHandler(logger, postingService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerHandler := ledger.NewHandler(logger, ledgerRepo)

	openRepo := openledger.NewRepository(pool)
	openHandler := openledger.NewHandler(logger, openRepo, func(ctx context.Context, transactionID uuid.UUID, settlement openledger.Status) error {
		_, err := postingService.MarkSettlement(ctx, transactionID, settlement)
		return err
	})

	jobsHandler := jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PostingHandler:    postingHandler,
		LedgerHandler:     ledgerHandler,
		OpenLedgerHandler: openHandler,
		JobsHandler:       jobsHandler,
		Pool:              pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}
