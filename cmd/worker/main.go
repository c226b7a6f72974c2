package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-quotes/internal/app"
	"github.com/odyssey-erp/odyssey-quotes/internal/budgets"
	"github.com/odyssey-erp/odyssey-quotes/internal/export"
	jobmetrics "github.com/odyssey-erp/odyssey-quotes/internal/jobs"
	"github.com/odyssey-erp/odyssey-quotes/internal/mail"
	"github.com/odyssey-erp/odyssey-quotes/internal/observability"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-quotes/internal/platform/db"
	"github.com/odyssey-erp/odyssey-quotes/jobs"
	"github.com/odyssey-erp/odyssey-quotes/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGMaxConnLifetime,
	})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	pdfClient := report.NewClient(cfg.GotenbergURL)
	composer := export.NewComposer(cfg.CompanyName, logger, metrics)
	exporter := export.NewExporter(export.NewPDFRenderer(cfg.PDFEngine, pdfClient), metrics, logger)

	budgetRepo := budgets.NewRepository(pool)
	summaryCache := budgets.NewSummaryCache(redisClient, cfg.SummaryCacheTTL, logger)
	budgetService := budgets.NewService(budgetRepo, summaryCache, composer, exporter, nil, metrics, logger)

	var sender mail.Sender = mail.Nop{}
	if cfg.SendGridAPIKey != "" {
		sender = mail.NewSendGrid(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom, logger)
	} else {
		logger.Warn("SENDGRID_API_KEY not set, budget emails will be dropped")
	}

	emailJob := jobs.NewBudgetEmailJob(budgetService, exporter, sender, logger, jobMetrics)
	warmupJob := jobs.NewSummaryWarmupJob(budgetService, logger, jobMetrics)

	warmupTask, err := jobs.NewSummaryWarmupTask(0, 0)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBudgetEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskSummaryWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
