package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/palisade-authz/palisade/internal/app"
	"github.com/palisade-authz/palisade/internal/assignment"
	"github.com/palisade-authz/palisade/internal/authz"
	"github.com/palisade-authz/palisade/internal/endpoints"
	"github.com/palisade-authz/palisade/internal/observability"
	"github.com/palisade-authz/palisade/internal/platform/cache"
	"github.com/palisade-authz/palisade/internal/platform/db"
	"github.com/palisade-authz/palisade/internal/policy"
	"github.com/palisade-authz/palisade/internal/reconcile"
	"github.com/palisade-authz/palisade/internal/registry"
	"github.com/palisade-authz/palisade/internal/rolecache"
	"github.com/palisade-authz/palisade/internal/roles"
	"github.com/palisade-authz/palisade/internal/shared"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, err := policy.NewStore(ctx, pool)
	if err != nil {
		logger.Error("load policy store", slog.Any("error", err))
		os.Exit(1)
	}

	roleCache := rolecache.New(redisClient, cfg.RoleCacheTTL, cfg.RoleCacheNegativeTTL)
	mutex := shared.NewMutex(redisClient, cfg.AssignLockTTL, cfg.AssignLockWait)
	metrics := observability.NewMetrics()

	assignmentRepo := assignment.NewRepository(pool)
	resolver := authz.NewResolver(roleCache, assignmentRepo, store, logger, metrics, authz.ResolverConfig{
		DefaultDomain:   cfg.DefaultDomain,
		FallbackTimeout: cfg.FallbackTimeout,
	})
	guard := authz.Middleware{Resolver: resolver, Logger: logger}

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, store, roleCache, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, guard)

	assignmentService := assignment.NewService(logger, assignmentRepo, store, roleCache, mutex)
	assignmentHandler := assignment.NewHandler(logger, assignmentService, guard)

	endpointsRepo := endpoints.NewRepository(pool)
	endpointsService := endpoints.NewService(endpointsRepo)
	endpointsHandler := endpoints.NewHandler(logger, endpointsService, guard)

	reg := registry.New()
	reg.Register(
		roles.Descriptor(),
		assignment.Descriptor(),
		endpoints.Descriptor(),
		reconcile.Descriptor(),
	)

	reconcileService := reconcile.NewService(logger, reg, endpointsRepo, store, cfg.SuperRole, cfg.DefaultDomain)
	reconcileHandler := reconcile.NewHandler(logger, reconcileService, guard)

	// Seed the endpoint catalog and super-role grants before serving.
	if report, err := reconcileService.Reconcile(ctx); err != nil {
		logger.Error("startup reconciliation", slog.Any("error", err))
		os.Exit(1)
	} else {
		logger.Info("startup reconciliation", slog.String("report", report.String()))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RolesHandler:      rolesHandler,
		AssignmentHandler: assignmentHandler,
		EndpointsHandler:  endpointsHandler,
		ReconcileHandler:  reconcileHandler,
		Metrics:           metrics,
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
