package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"voxdrop/internal/app"
	"voxdrop/internal/config"
	"voxdrop/internal/logging"
	"voxdrop/internal/worker"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.New("local", "info").WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.Environment, cfg.LogLevel)

	deps, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("bootstrap")
	}
	defer deps.Close()

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Concurrency,
	})
	processor := worker.NewProcessor(deps.Pipeline, log.WithModule("worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.WithField("concurrency", cfg.Concurrency).Info("worker starting")
	if err := server.Run(mux); err != nil {
		log.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
}
