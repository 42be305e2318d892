package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/trip-booking/internal/cache"
	"github.com/iliyamo/trip-booking/internal/config"
	"github.com/iliyamo/trip-booking/internal/database"
	"github.com/iliyamo/trip-booking/internal/handler"
	"github.com/iliyamo/trip-booking/internal/middleware"
	"github.com/iliyamo/trip-booking/internal/queue"
	"github.com/iliyamo/trip-booking/internal/repository"
	"github.com/iliyamo/trip-booking/internal/router"
	"github.com/iliyamo/trip-booking/internal/service"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(config.LoadLogConfig(cfg.Env), nil)
	config.UseLogger(logger)

	db, err := database.Open(database.Options{
		User:         cfg.DBUser,
		Pass:         cfg.DBPass,
		Host:         cfg.DBHost,
		Port:         cfg.DBPort,
		Name:         cfg.DBName,
		MaxOpenConns: cfg.DBMaxConns,
	})
	if err != nil {
		logger.WithError(err).Fatal("database: open failed")
	}
	defer db.Close()

	rdb := config.NewRedisClient(config.LoadRedisConfig()) // nil when Redis is unreachable
	cacheCfg := config.LoadCacheConfig()
	var tripCache *cache.Cache
	if cacheCfg.Enabled {
		tripCache = cache.New(rdb, cacheCfg.Prefix, cacheCfg.TTL)
	}

	trips := repository.NewTripRepo(db)
	seats := repository.NewSeatOccupancyRepo(db)
	promos := repository.NewPromoRepo(db)
	catalog := service.NewTripCatalog(trips, seats, promos, tripCache, nil)

	opts := service.Options{
		HoldWindow:   cfg.Booking.HoldWindow,
		Currency:     cfg.Booking.Currency,
		SweepBatch:   cfg.Booking.SweepBatchSize,
		SweepWorkers: cfg.Booking.SweepConcurrency,
		Gateway: service.NewSimulator(service.SimulatorConfig{
			FailureRate: cfg.Gateway.FailureRate,
			Latency:     cfg.Gateway.Latency,
		}),
		Catalog: catalog,
		Logger:  logger,
	}
	if cfg.Events.Enabled {
		opts.Events = queue.NewPublisher(cfg.Events.URL)
	}
	engine := service.NewEngine(db, opts)
	promoAdmin := service.NewPromoAdmin(promos, nil)

	sweeper := service.NewSweeper(engine, cfg.Booking.HoldSweepEvery, cfg.Booking.CompleteSweepEvery)
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Fatal("sweeper: start failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Events.Enabled && cfg.Events.LogConsumer {
		consumer := &queue.Consumer{URL: cfg.Events.URL, LogDir: cfg.Events.LogDir}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("booking log consumer stopped")
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	router.Register(e, router.Handlers{
		Auth: handler.NewAuthHandler(handler.AuthConfig{
			JWTSecret:    cfg.JWTSecret,
			AccessTTLMin: cfg.AccessTTLMin,
			BcryptCost:   cfg.BcryptCost,
		}, repository.NewUserRepo(db)),
		Trips:     handler.NewTripHandler(catalog),
		Bookings:  handler.NewBookingHandler(engine),
		Payments:  handler.NewPaymentHandler(engine),
		Promos:    handler.NewPromoHandler(promoAdmin),
		Admin:     handler.NewAdminHandler(engine),
		Health:    handler.Health(db),
		JWTSecret: cfg.JWTSecret,
		Throttle:  middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	})

	addr := ":" + cfg.Port
	go func() {
		logger.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	if err := sweeper.Stop(); err != nil {
		logger.WithError(err).Error("sweeper shutdown")
	}
	engine.WaitEvents()
	if rdb != nil {
		_ = rdb.Close()
	}
}
