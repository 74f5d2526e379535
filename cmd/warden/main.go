// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command warden is the entry point for the Warden access-control API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL and run migrations, or fall back to memory.
//  4. Connect to Redis, or fall back to the in-process lock.
//  5. Wire permission, policy, two-factor and guard services.
//  6. Start the expired-session sweeper.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/access/guard"
	"github.com/taibuivan/warden/internal/access/permission"
	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/internal/access/twofactor"
	"github.com/taibuivan/warden/internal/api"
	"github.com/taibuivan/warden/internal/platform/config"
	"github.com/taibuivan/warden/internal/platform/constants"
	"github.com/taibuivan/warden/internal/platform/keylock"
	"github.com/taibuivan/warden/internal/platform/metrics"
	"github.com/taibuivan/warden/internal/platform/migration"
	pgstore "github.com/taibuivan/warden/internal/platform/postgres"
	redisstore "github.com/taibuivan/warden/internal/platform/redis"
	"github.com/taibuivan/warden/internal/platform/sec"
)

// repositories groups the storage-backed implementations chosen at startup.
type repositories struct {
	catalogues  permission.CatalogueRepository
	memberships permission.MembershipRepository
	settings    policy.SettingsRepository
	rules       policy.IPRuleRepository
	secrets     twofactor.SecretRepository
	guard       guard.Repository
	auditSinks  []audit.Sink
	contentSink []audit.ContentSink
}

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	log.Info("service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		log = newLogger(slog.LevelDebug)
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Bool("postgres", cfg.UsePostgres()),
		slog.Bool("redis", cfg.UseRedis()),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Lives until shutdown; stops the sweeper and the rate limiter janitor.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// ── 3. Metrics ────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	health := api.HealthDependencies{}

	// ── 4. PostgreSQL ─────────────────────────────────────────────────────
	var repos repositories
	if cfg.UsePostgres() {
		pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
		must(log, err, "connect to postgres")
		defer func() {
			log.Info("closing postgres pool")
			pool.Close()
		}()

		must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

		repos = postgresRepositories(pool)
		health.CheckDatabase = func(ctx context.Context) error { return pgstore.Ping(ctx, pool) }
	} else {
		log.Warn("database_not_configured", slog.String("storage", "memory"))
		repos = memoryRepositories()
	}
	repos.auditSinks = append(repos.auditSinks, audit.NewLogSink(log))

	// ── 5. Redis ──────────────────────────────────────────────────────────
	var locker keylock.Locker = keylock.NewLocal()
	if cfg.UseRedis() {
		rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
		must(log, err, "connect to redis")
		defer func() {
			log.Info("closing redis client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis close error", slog.Any("error", cerr))
			}
		}()

		locker = keylock.NewRedis(rdb, constants.RedisPrefixUserLock, log)
		repos.settings = policy.NewCachedSettingsRepository(repos.settings, rdb, cfg.SettingsCacheTTL, log)
		health.CheckCache = func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) }
	}

	// ── 6. Token verification ─────────────────────────────────────────────
	verifier, err := sec.NewTokenVerifier(cfg.JWTPubKeyPath, cfg.JWTIssuer)
	must(log, err, "initialize jwt verifier")

	// ── 7. Domain Wiring ──────────────────────────────────────────────────
	emitter := audit.NewEmitter(log, collector, repos.auditSinks, repos.contentSink)

	permissionService := permission.NewService(repos.catalogues, repos.memberships, log, collector)
	policyService := policy.NewService(repos.settings, repos.rules, locker, emitter, log)
	otp := twofactor.NewVerifier(repos.secrets, cfg.TOTPIssuer, log)

	accessGuard := guard.New(guard.Config{
		Repository: repos.guard,
		Settings:   policyService,
		Rules:      policyService,
		Verifier:   otp,
		Locker:     locker,
		Emitter:    emitter,
		Metrics:    collector,
		Logger:     log,
		Options: guard.Options{
			AutoEvict:      cfg.AutoEvictSessions,
			LimitReduction: guard.LimitReductionPolicy(cfg.LimitReductionPolicy),
		},
	})

	go accessGuard.RunSweeper(appCtx, cfg.SessionSweepInterval)

	// ── 8. HTTP Server ────────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(health, log)

	handlers := api.Handlers{
		Liveness:   liveness,
		Readiness:  readiness,
		Permission: permission.NewHandler(permissionService),
		Policy:     policy.NewHandler(policyService),
		Guard:      guard.NewHandler(accessGuard, repos.memberships),
		TwoFactor:  twofactor.NewHandler(otp),
	}

	server := api.NewServer(appCtx, cfg, log, api.Dependencies{
		Verifier: verifier,
		Resolver: permissionService,
		Metrics:  collector,
	}, handlers)

	// ── 9. Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	appCancel()

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// newLogger builds the JSON logger with the global app attribute.
func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("app", constants.AppName))
}

// postgresRepositories backs every store with the shared pool.
func postgresRepositories(pool *pgxpool.Pool) repositories {
	permissions := permission.NewPostgresRepository(pool)
	policies := policy.NewPostgresRepository(pool)
	audits := audit.NewPostgresRepository(pool)

	return repositories{
		catalogues:  permissions,
		memberships: permissions,
		settings:    policies,
		rules:       policies,
		secrets:     twofactor.NewPostgresRepository(pool),
		guard:       guard.NewPostgresRepository(pool),
		auditSinks:  []audit.Sink{audits},
		contentSink: []audit.ContentSink{audits},
	}
}

// memoryRepositories backs a single process with no external storage.
func memoryRepositories() repositories {
	permissions := permission.NewMemoryRepository(permission.BuiltInSnapshot())
	policies := policy.NewMemoryRepository()
	audits := audit.NewMemoryStore()

	return repositories{
		catalogues:  permissions,
		memberships: permissions,
		settings:    policies,
		rules:       policies,
		secrets:     twofactor.NewMemoryRepository(),
		guard:       guard.NewMemoryRepository(),
		auditSinks:  []audit.Sink{audits},
		contentSink: []audit.ContentSink{audits},
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
