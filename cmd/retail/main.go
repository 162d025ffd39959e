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

	"github.com/odyssey-erp/odyssey-retail/cmd/retail/cli"
	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-retail/internal/audit/http"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/notify"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/procurement"
	"github.com/odyssey-erp/odyssey-retail/internal/reservations"
	"github.com/odyssey-erp/odyssey-retail/internal/returns"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

func main() {
	if app.SkipStartup(nil, "retail") {
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	runner := db.NewRunner(dbpool, db.TxOptions{
		LockTimeout: cfg.StockLockTimeout,
		MaxAttempts: cfg.StockTxRetries,
		Backoff:     25 * time.Millisecond,
	})
	metrics := observability.NewMetrics()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	emitter := notify.NewAsync(notify.NewTaskEmitter(jobsClient), 3*time.Second, logger)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	ledgerRepo := ledger.NewRepository(dbpool)
	stockLedger := ledger.NewLedger(ledgerRepo, emitter, metrics.Stock(), logger)

	salesRepo := sales.NewRepository(dbpool, runner)
	salesService := sales.NewService(salesRepo, stockLedger, emitter, auditLogger, idempotencyStore, logger)

	reservationsRepo := reservations.NewRepository(dbpool, runner)
	reservationsService := reservations.NewService(reservationsRepo, stockLedger, emitter, auditLogger,
		reservations.Config{ExpiringWindow: cfg.ReservationExpiringWindow}, logger)

	returnsRepo := returns.NewRepository(dbpool, runner)
	returnsService := returns.NewService(returnsRepo, stockLedger, emitter, auditLogger, logger)

	procurementRepo := procurement.NewRepository(dbpool, runner)
	procurementService := procurement.NewService(procurementRepo, stockLedger, emitter, auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		ProductsHandler:     ledger.NewHandler(logger, stockLedger),
		SalesHandler:        sales.NewHandler(logger, salesService),
		ReservationsHandler: reservations.NewHandler(logger, reservationsService),
		ReturnsHandler:      returns.NewHandler(logger, returnsService),
		ProcurementHandler:  procurement.NewHandler(logger, procurementService),
		AuditHandler:        audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:          jobs.NewHandler(inspector, logger),
		DB:                  dbpool,
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
