package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/palisade-authz/palisade/internal/app"
	"github.com/palisade-authz/palisade/internal/assignment"
	"github.com/palisade-authz/palisade/internal/endpoints"
	"github.com/palisade-authz/palisade/internal/platform/db"
	"github.com/palisade-authz/palisade/internal/policy"
	"github.com/palisade-authz/palisade/internal/reconcile"
	"github.com/palisade-authz/palisade/internal/registry"
	"github.com/palisade-authz/palisade/internal/roles"
	"github.com/palisade-authz/palisade/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	store, err := policy.NewStore(ctx, pool)
	if err != nil {
		logger.Error("load policy store", slog.Any("error", err))
		os.Exit(1)
	}

	reg := registry.New()
	reg.Register(
		roles.Descriptor(),
		assignment.Descriptor(),
		endpoints.Descriptor(),
		reconcile.Descriptor(),
	)

	endpointsRepo := endpoints.NewRepository(pool)
	reconcileService := reconcile.NewService(logger, reg, endpointsRepo, store, cfg.SuperRole, cfg.DefaultDomain)

	reconcileTask, err := jobs.NewReconcileTask(jobs.ReconcilePayload{Reason: "cron"})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeReconcile, Handler: jobs.NewReconcileHandler(reconcileService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
