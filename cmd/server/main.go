package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"voxdrop/internal/api"
	"voxdrop/internal/app"
	"voxdrop/internal/config"
	"voxdrop/internal/logging"
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

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	server := api.New(cfg, deps.Submissions, deps.Accounts, deps.Blob, queueClient,
		deps.Pipeline, deps.Signer, log)
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
