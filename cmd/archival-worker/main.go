package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronwang/campus-auction/internal/archival"
	"github.com/aaronwang/campus-auction/internal/config"
	"github.com/aaronwang/campus-auction/internal/database"
	"github.com/aaronwang/campus-auction/internal/logger"
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

	log.Info("starting archival worker")

	// Initialize PostgreSQL client
	db, err := database.NewPostgresClient(cfg.PostgresURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal("failed to initialize schema", zap.Error(err))
	}
	log.Info("database schema initialized")

	natsConn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		log.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer natsConn.Close()

	consumer, err := archival.NewConsumer(natsConn, database.NewAuditLog(db), log.Named("consumer"))
	if err != nil {
		log.Fatal("failed to create consumer", zap.Error(err))
	}

	done := make(chan error, 1)
	go func() {
		done <- consumer.Start(ctx)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutting down worker")
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			log.Error("consumer stopped", zap.Error(err))
		}
	}

	log.Info("worker stopped gracefully")
}
