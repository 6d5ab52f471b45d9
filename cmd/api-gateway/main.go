package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/aaronwang/campus-auction/internal/archival"
	"github.com/aaronwang/campus-auction/internal/auth"
	"github.com/aaronwang/campus-auction/internal/config"
	"github.com/aaronwang/campus-auction/internal/database"
	"github.com/aaronwang/campus-auction/internal/handlers"
	"github.com/aaronwang/campus-auction/internal/logger"
	redisClient "github.com/aaronwang/campus-auction/internal/redis"
	"github.com/aaronwang/campus-auction/internal/service"
	wsHandler "github.com/aaronwang/campus-auction/internal/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Mode: cfg.LogMode, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("api gateway failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting api gateway",
		zap.String("addr", cfg.ServerAddr),
		zap.String("audit_mode", cfg.AuditMode),
		zap.String("broadcast_mode", cfg.BroadcastMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client
	store, err := redisClient.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	// Initialize PostgreSQL client
	db, err := database.NewPostgresClient(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	log.Info("connected to postgres")

	var audit service.AuditLog
	switch cfg.AuditMode {
	case config.AuditModeJetStream:
		natsConn, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			return err
		}
		defer natsConn.Close()
		publisher, err := archival.NewPublisher(ctx, natsConn, log.Named("archival"))
		if err != nil {
			return err
		}
		audit = publisher
		log.Info("connected to nats", zap.String("url", cfg.NatsURL))
	default:
		audit = database.NewAuditLog(db)
	}

	manager := wsHandler.NewManager(log.Named("rooms"))
	go manager.Run(ctx)

	var (
		broadcaster service.Broadcaster       = manager
		chat        wsHandler.ChatBroadcaster = manager
	)
	if cfg.BroadcastMode == config.BroadcastModeRedis {
		publisher := redisClient.NewPublisher(store)
		broadcaster, chat = publisher, publisher

		subscriber := redisClient.NewSubscriber(store, log.Named("pubsub"))
		if err := subscriber.SubscribeToPattern(ctx, redisClient.EventChannelPattern); err != nil {
			return err
		}
		defer subscriber.Close()

		messages := make(chan *redisClient.Message, 256)
		go func() {
			if err := subscriber.Listen(ctx, messages); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis listener stopped", zap.Error(err))
			}
		}()
		go manager.Relay(ctx, messages)
	}

	notifications := redisClient.NewNotificationStore(store)
	clk := clock.NewClock()

	engine, err := service.NewAuctionEngine(service.Dependencies{
		Repository:     store,
		Reputation:     database.NewReputationStore(db),
		Audit:          audit,
		Notifications:  notifications,
		Broadcaster:    broadcaster,
		Clock:          clk,
		Logger:         log.Named("engine"),
		EndedCacheSize: cfg.EndedCacheSize,
	})
	if err != nil {
		return err
	}

	if cfg.SweepInterval > 0 {
		sweeper, err := service.NewSweeper(engine, store, clk, log.Named("sweeper"), service.SweeperConfig{
			Interval:  cfg.SweepInterval,
			Workers:   cfg.SweepWorkers,
			BatchSize: cfg.SweepBatchSize,
		})
		if err != nil {
			return err
		}
		go sweeper.Run(ctx)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	realtime := wsHandler.NewHandler(manager, engine, chat, tokens, log.Named("ws"), wsHandler.HandlerConfig{
		ChatRate:  cfg.ChatRatePerSec,
		ChatBurst: cfg.ChatBurst,
	})

	handler := handlers.NewHandler(handlers.Options{
		Auctions:      engine,
		Notifications: notifications,
		Audit:         database.NewAuditLog(db),
		Tokens:        tokens,
		Realtime:      realtime,
		Logger:        log.Named("http"),
		CORSOrigins:   cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api gateway listening", zap.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped gracefully")
	return nil
}
