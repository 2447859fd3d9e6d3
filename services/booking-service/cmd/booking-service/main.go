package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptledger/libs/config"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/libs/httpx"
	"github.com/md-rashed-zaman/apptledger/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptledger/libs/otel"
	"github.com/md-rashed-zaman/apptledger/libs/runtime"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/goals"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/grpcserver"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/migrations"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/sweeper"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	if err := run(logger, service); err != nil {
		logger.Error("booking service failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, service string) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	sweepEvery, err := config.Duration("SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return err
	}
	rateLimit, err := config.Int("RATE_LIMIT_PER_MINUTE", 0)
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	brokers := config.String("KAFKA_BROKERS", "")

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, dbURL, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer pool.Close()

	if config.Bool("AUTO_MIGRATE", false) {
		applied, err := migrations.Apply(ctx, pool, logger)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "count", applied)
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
	}

	catalog := storage.NewCatalogRepository(pool)
	appointments := storage.NewAppointmentRepository()
	outboxRepo := outbox.NewRepository()

	guard := conflict.NewGuard(appointments, pool, logger)
	commissions := commission.NewEngine(storage.NewCommissionRepository(), pool, outboxRepo, logger)
	ledger := loyalty.NewLedger(storage.NewLoyaltyRepository(), pool, outboxRepo, logger, time.Now)
	tracker := goals.NewTracker(storage.NewGoalRepository(), pool, logger)
	resolver := availability.NewResolver(catalog, guard, time.Now)

	// With a broker the goals consumer owns progress; without one the
	// completion transaction applies it inline.
	var goalSink lifecycle.GoalSink
	if brokers == "" {
		goalSink = tracker
	}
	appts := lifecycle.New(lifecycle.Deps{
		Runner:      pool,
		Store:       appointments,
		Catalog:     catalog,
		Calendar:    resolver,
		Guard:       guard,
		Commissions: commissions,
		Loyalty:     ledger,
		Goals:       goalSink,
		Events:      outboxRepo,
		Logger:      logger,
		Now:         time.Now,
	}, lifecycle.Config{
		AllowCancelAfterCompletion: config.Bool("ALLOW_CANCEL_AFTER_COMPLETION", false),
	})

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	if brokers != "" {
		goalConsumer := consumer.New(logger, pool, inbox.NewRepository(), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service.goals"),
			Topics:  consumer.GoalTopics,
		}, consumer.GoalHandler(tracker))
		go goalConsumer.Run(ctx)
	}

	var locker sweeper.Locker
	if rdb != nil {
		locker = sweeper.NewRedisLocker(rdb)
	}
	go sweeper.New(ledger, tracker, locker, logger, sweeper.Config{Interval: sweepEvery}).Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.SplitBrokers(brokers))})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	health := grpcserver.NewHealth(logger, checks...)
	go health.Watch(ctx, 10*time.Second)
	grpcSrv := grpcserver.NewServer(logger, health)
	go func() {
		if err := grpcserver.Serve(ctx, logger, grpcSrv, ":"+grpcPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/api/", handlers.NewRouter(handlers.Deps{
		Appointments: appts,
		Slots:        resolver,
		Commissions:  commissions,
		Loyalty:      ledger,
		Goals:        tracker,
		Logger:       logger,
		Now:          time.Now,
	}, config.List("CORS_ALLOWED_ORIGINS")))

	middleware := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(15 * time.Second),
	}
	if rdb != nil && rateLimit > 0 {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "booking:rl")
		middleware = append(middleware, limiter.Middleware(logger, true))
	}
	httpHandler := otelhttp.NewHandler(httpx.Chain(mux, middleware...), "booking")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}
