package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/library-reservations/internal/config"
	"github.com/iliyamo/library-reservations/internal/database"
	"github.com/iliyamo/library-reservations/internal/handler"
	"github.com/iliyamo/library-reservations/internal/logger"
	"github.com/iliyamo/library-reservations/internal/middleware"
	"github.com/iliyamo/library-reservations/internal/queue"
	"github.com/iliyamo/library-reservations/internal/repository"
	"github.com/iliyamo/library-reservations/internal/router"
	"github.com/iliyamo/library-reservations/internal/scheduler"
	"github.com/iliyamo/library-reservations/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	// Redis backs the response cache, the rate limiter and the sweeper lock.
	// All three degrade to no-ops without it.
	var rdb redis.UniversalClient
	if c := config.NewRedisClient(config.LoadRedisConfig()); c != nil {
		rdb = c
		defer func() { _ = c.Close() }()
	} else {
		lg.Info("redis disabled or unreachable; cache, rate limit and sweeper lock are off")
	}

	// The cache invalidator precedes the broker publisher.
	cacheCfg := config.LoadCacheConfig()
	var sinks queue.Fanout
	if inv := middleware.NewCacheInvalidator(cacheCfg, rdb); inv != nil {
		sinks = append(sinks, inv)
	}
	if cfg.Events.Enabled {
		sinks = append(sinks, queue.NewPublisher(cfg.Events.URL, cfg.Events.Queue, lg.Named("publisher")))
		if cfg.Events.Consume {
			consumer := queue.NewConsumer(cfg.Events.URL, cfg.Events.Queue, cfg.Events.AuditLogPath, lg.Named("consumer"))
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					lg.Error("audit consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	var events service.EventPublisher = queue.NopPublisher{}
	if len(sinks) > 0 {
		events = sinks
	}

	availability := service.NewAvailability(store, cfg.Policy.AllowWaitlist)
	lifecycle := service.NewLifecycle(store, availability, events, lg.Named("lifecycle"), service.Policy{
		DefaultHold:  cfg.Policy.DefaultHold(),
		ExtendWindow: cfg.Policy.ExtendWindow,
		SweepBatch:   cfg.Sweeper.BatchSize,
	})

	if cfg.Sweeper.Enabled {
		var lock scheduler.Locker
		if rdb != nil {
			lock = scheduler.NewRedisLock(rdb, cfg.Sweeper.LockKey, cfg.Sweeper.LockTTL)
		}
		go scheduler.New(lifecycle, lock, cfg.Sweeper.Interval, lg.Named("sweeper")).Start(ctx)
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = handler.JSONSerializer{}
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(lg.Named("http")))
	e.Use(echomw.Recover())

	router.Register(e, router.Deps{
		Reservations: handler.NewReservationHandler(lifecycle, service.NewQueue(store), availability, lg.Named("handler")),
		Store:        store,
		JWTSecret:    cfg.JWTSecret,
		Cache:        middleware.NewRedisCache(cacheCfg, rdb),
		RateLimit:    middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, lg.Named("ratelimit")),
	})

	addr := ":" + cfg.Port
	go func() {
		lg.Info("listening", zap.String("addr", addr), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		lg.Error("http shutdown", zap.Error(err))
	}
}

// openStore builds the configured ReservationStore.  The returned func
// releases its resources.
func openStore(ctx context.Context, cfg config.Config, lg *zap.Logger) (repository.ReservationStore, func(), error) {
	if cfg.StoreDriver == "memory" {
		s := repository.NewMemoryStore()
		seedDemoCatalogue(s)
		lg.Warn("using in-memory store; data is lost on exit")
		return s, func() {}, nil
	}

	db, err := database.Open(database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return repository.NewMySQLStore(db), func() { _ = db.Close() }, nil
}
