// Package app assembles the dependency graph shared by the server, worker,
// and CLI binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"voxdrop/internal/analysis"
	"voxdrop/internal/blobstore"
	"voxdrop/internal/config"
	"voxdrop/internal/database"
	"voxdrop/internal/decision"
	"voxdrop/internal/eligibility"
	"voxdrop/internal/fingerprint"
	"voxdrop/internal/logging"
	"voxdrop/internal/notify"
	"voxdrop/internal/pipeline"
	"voxdrop/internal/repository"
	"voxdrop/internal/signing"
)

// Per-minute provider rates applied when an endpoint does not report cost.
const (
	standardCostPerMin = 0.006
	advancedCostPerMin = 0.024
)

// App carries every constructed dependency.
type App struct {
	Cfg         *config.Config
	Log         *logging.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Submissions *repository.SubmissionRepository
	Ledger      *repository.LedgerRepository
	Accounts    *repository.AccountRepository
	Blob        *blobstore.Store
	Signer      *signing.Signer
	Pipeline    *pipeline.Pipeline
}

// New connects backing services and wires the pipeline.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	subs := repository.NewSubmissionRepository(pool)
	ledger := repository.NewLedgerRepository(pool)
	accounts := repository.NewAccountRepository(pool)

	blob, err := blobstore.New(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init blobstore: %w", err)
	}
	if err := blob.EnsureBucket(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	window := fingerprint.NewRedisWindow(rdb, cfg.DuplicateWindow)
	engine := fingerprint.NewEngine(window, subs, cfg.NearDupHammingMax, cfg.DuplicateWindow)

	standard := analysis.NewHTTPProvider("standard-transcribe", cfg.ProviderURL,
		cfg.ProviderAPIKey, standardCostPerMin, cfg.AnalyzeTimeout, log.WithModule("analysis"))
	var advanced analysis.Provider
	if cfg.AdvancedProviderURL != "" {
		advanced = analysis.NewHTTPProvider("advanced-multimodel", cfg.AdvancedProviderURL,
			cfg.AdvancedProviderAPIKey, advancedCostPerMin, cfg.AnalyzeTimeout, log.WithModule("analysis"))
	}
	router := analysis.NewRouter(standard, advanced, cfg.AnalyzeTimeout, log.WithModule("analysis"))

	gate := eligibility.NewGate(accounts, cfg.RequireVerifiedSender)
	signer := signing.NewSigner(cfg.SigningSecret)
	sender := notify.NewSender(cfg.NotifyWebhookURL, cfg.AnalyzeTimeout)
	dispatcher := notify.NewDispatcher(subs, sender, signer, cfg.PublicBaseURL,
		cfg.SignedURLTTL, log.WithModule("notify"))

	opts := pipeline.Options{
		Limits: decision.Limits{
			MinBytes:     cfg.MinFileBytes,
			MaxBytes:     cfg.MaxFileBytes,
			MinSeconds:   cfg.MinDurationSeconds,
			MaxSeconds:   cfg.MaxDurationSeconds,
			AllowedTypes: cfg.AllowedTypes,
		},
		Thresholds: decision.Thresholds{
			Accept:          cfg.AcceptThreshold,
			Reject:          cfg.RejectThreshold,
			Spam:            cfg.SpamThreshold,
			Gibberish:       cfg.GibberishThreshold,
			Synthetic:       cfg.SyntheticThreshold,
			Inappropriate:   cfg.InappropriateThreshold,
			MinSeconds:      cfg.MinDurationSeconds,
			MaxSeconds:      cfg.MaxDurationSeconds,
			RepeatedPerHour: cfg.RepeatedPerHour,
			BulkPerHour:     cfg.BulkPerHour,
		},
		MaxAttempts: cfg.MaxAttempts,
	}
	pipe := pipeline.New(subs, gate, accounts, engine, router, ledger, blob,
		dispatcher, opts, log.WithModule("pipeline"))

	return &App{
		Cfg:         cfg,
		Log:         log,
		Pool:        pool,
		Redis:       rdb,
		Submissions: subs,
		Ledger:      ledger,
		Accounts:    accounts,
		Blob:        blob,
		Signer:      signer,
		Pipeline:    pipe,
	}, nil
}

// Close releases held connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
