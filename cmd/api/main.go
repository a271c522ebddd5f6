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

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/jurismatch/backend/internal/auth"
	"github.com/jurismatch/backend/internal/config"
	"github.com/jurismatch/backend/internal/db"
	"github.com/jurismatch/backend/internal/execution"
	"github.com/jurismatch/backend/internal/handlers"
	"github.com/jurismatch/backend/internal/ledger"
	"github.com/jurismatch/backend/internal/models"
	"github.com/jurismatch/backend/internal/notify"
	"github.com/jurismatch/backend/internal/payments"
	"github.com/jurismatch/backend/internal/repository"
	"github.com/jurismatch/backend/internal/router"
	"github.com/jurismatch/backend/internal/services"
)

const expireInterval = time.Hour

// directory lets notification workers read leads, clients and lawyers.
type directory struct {
	*repository.LeadRepo
	*repository.LawyerRepo
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Environment}); err != nil {
			slog.Warn("Sentry init failed, errors will only be logged", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Stores
	leadRepo := repository.NewLeadRepo()
	lawyerRepo := repository.NewLawyerRepo()
	matchRepo := repository.NewMatchRepo()
	markerRepo := repository.NewNotificationRepo()
	paymentRepo := repository.NewPaymentEventRepo()

	// Services. The dispatcher is bound to the River client once it exists.
	dispatcher := execution.NewDispatcher()

	ledgerSvc := ledger.NewService(ledger.NewRepository(), pool, logger)

	weights := services.DefaultWeights()
	if err := weights.Apply(cfg.ScoringWeights); err != nil {
		slog.Error("Invalid SCORING_WEIGHTS", "error", err)
		os.Exit(1)
	}
	scorer := services.NewScorer(weights)

	distCfg := services.DefaultDistributorConfig()
	distCfg.Caps = map[models.Plan]int{
		models.PlanFeatured: cfg.Distribution.FeaturedCap,
		models.PlanPremium:  cfg.Distribution.PremiumCap,
		models.PlanFree:     cfg.Distribution.FreeCap,
	}
	distCfg.PremiumDelay = cfg.Distribution.PremiumReleaseDelay
	distCfg.FreeDelay = cfg.Distribution.FreeReleaseDelay
	distCfg.SweepLookback = cfg.Distribution.SweepLookback

	distributor := services.NewDistributor(scorer, leadRepo, lawyerRepo, matchRepo, markerRepo, dispatcher, pool, distCfg, logger)
	machine := services.NewMatchMachine(leadRepo, matchRepo, pool, cfg.AcceptMaxRetries, logger)
	acceptor := services.NewAcceptor(pool, lawyerRepo, leadRepo, matchRepo, ledgerSvc, distributor, machine, dispatcher,
		services.AcceptorConfig{
			CreditCost:  cfg.LeadCreditCost,
			Timeout:     cfg.AcceptTimeout,
			MaxAttempts: cfg.AcceptMaxRetries,
		}, logger)

	// Notifications
	var dedup notify.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, notification dedup degrades to River retries only", "error", err)
		}
		dedup = notify.NewRedisDeduper(rdb)
	}
	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTP.Enabled() {
		notifier = notify.NewEmailNotifier(cfg.SMTP, cfg.AppBaseURL, dedup, logger)
	} else {
		slog.Warn("SMTP not configured, notifications are logged only")
	}
	dir := directory{LeadRepo: leadRepo, LawyerRepo: lawyerRepo}

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewTierSweepWorker(distributor))
	river.AddWorker(workers, execution.NewExpireMatchesWorker(machine, cfg.Distribution.MatchTTL, logger))
	river.AddWorker(workers, execution.NewNotifyLawyerWorker(pool, dir, notifier, logger))
	river.AddWorker(workers, execution.NewLeadAcceptedWorker(pool, dir, notifier, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       execution.Queues(),
		Workers:      workers,
		PeriodicJobs: execution.PeriodicJobs(cfg.Distribution.SweepInterval, expireInterval),
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	dispatcher.Bind(riverClient)

	// HTTP
	paymentsSvc := payments.NewService(payments.NewVerifier(cfg.StripeWebhookSecret), paymentRepo, ledgerSvc, pool, logger)
	h := &handlers.Handler{
		Acceptor:    acceptor,
		Distributor: distributor,
		Matches:     machine,
		Ledger:      ledgerSvc,
		Payments:    paymentsSvc,
		DB:          pool,
		Logger:      logger,
	}
	api := router.WithCORS(router.New(h, auth.NewService(cfg.JWTSecret)), cfg.AllowedOrigins)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River stop failed", "error", err)
	}
}
