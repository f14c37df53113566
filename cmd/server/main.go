package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ful2win/backend/internal/accounts"
	"github.com/ful2win/backend/internal/api"
	"github.com/ful2win/backend/internal/api/handlers"
	"github.com/ful2win/backend/internal/archive"
	"github.com/ful2win/backend/internal/config"
	"github.com/ful2win/backend/internal/database"
	"github.com/ful2win/backend/internal/game"
	"github.com/ful2win/backend/internal/jobs"
	"github.com/ful2win/backend/internal/logging"
	"github.com/ful2win/backend/internal/migrations"
	"github.com/ful2win/backend/internal/redis"
	"github.com/ful2win/backend/internal/store"
	"github.com/ful2win/backend/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Initialize configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	decimal.MarshalJSONWithoutQuotes = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := map[string]handlers.Pinger{}

	// Initialize database
	var db *sqlx.DB
	if cfg.StoreBackend == config.BackendPostgres || cfg.QueueBackend == config.BackendPostgres {
		var err error
		db, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		health["postgres"] = db.PingContext

		// Run migrations on start if requested
		if cfg.MigrateOnStart {
			logger.Info("running migrations on startup")
			if err := migrations.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
	}

	// Initialize Redis
	var rdb *goredis.Client
	if cfg.QueueBackend == config.BackendRedis || cfg.RealtimeFanout == config.BackendRedis {
		var err error
		rdb, err = redis.Connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	queue, err := newQueue(cfg, db, rdb)
	if err != nil {
		return err
	}
	sessions, ledger, err := newSessionsAndLedger(cfg, db, logger)
	if err != nil {
		return err
	}

	sink, err := archive.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}
	defer sink.Close()

	hub := ws.NewHub(logger)
	if cfg.RealtimeFanout == config.BackendRedis {
		if err := hub.AttachBus(ctx, ws.NewBus(rdb, ws.DefaultTopic, logger)); err != nil {
			return fmt.Errorf("attach realtime bus: %w", err)
		}
	}

	mm := game.NewMatchmaker(queue, sessions, ledger, hub, logger)
	st := game.NewSettlement(sessions, sink, logger)
	ws.NewDispatcher(hub, mm, st, cfg.RequestTimeout, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	if cfg.MatchmakerPollSeconds > 0 {
		go mm.StartPairingWorker(ctx, time.Duration(cfg.MatchmakerPollSeconds)*time.Second)
	}

	sched, err := jobs.New(mm, jobs.Settings{
		QueueExpiry:       time.Duration(cfg.QueueExpiryMinutes) * time.Minute,
		ReconcileInterval: time.Duration(cfg.ReconcileIntervalSeconds) * time.Second,
		ReconcileWindow:   time.Duration(cfg.ReconcileWindowHours) * time.Hour,
	}, logger)
	if err != nil {
		return err
	}
	sched.Start()

	// Set up Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.Deps{
		Config:     cfg,
		Matchmaker: mm,
		Settlement: st,
		Hub:        hub,
		Health:     health,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
			zap.String("fanout", cfg.RealtimeFanout),
			zap.String("archive", cfg.ArchiveBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	stopHub()

	logger.Info("server exited")
	return nil
}

func newQueue(cfg *config.Config, db *sqlx.DB, rdb *goredis.Client) (game.QueueStore, error) {
	switch cfg.QueueBackend {
	case config.BackendPostgres:
		return store.NewPostgresQueue(db), nil
	case config.BackendRedis:
		return store.NewRedisQueue(rdb, ""), nil
	case config.BackendMemory:
		return store.NewMemoryQueue(), nil
	}
	return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
}

func newSessionsAndLedger(cfg *config.Config, db *sqlx.DB, logger *zap.Logger) (game.SessionStore, game.Ledger, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return store.NewPostgresSessions(db), accounts.NewStore(db, logger), nil
	case config.BackendMemory:
		logger.Warn("using in-memory session store and ledger; state is lost on restart")
		return store.NewMemorySessions(), accounts.NewMemoryLedger(), nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}
