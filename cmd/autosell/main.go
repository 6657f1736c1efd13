// ====================================
// File: cmd/autosell/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autosell/internal/app"
	"github.com/rovshanmuradov/solana-autosell/internal/config"
	"github.com/rovshanmuradov/solana-autosell/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (yaml, json or toml)")
	dryRun := flag.Bool("dry-run", false, "simulate sells instead of calling the swap service")
	flag.Parse()

	if *dryRun {
		// Переменные окружения имеют приоритет над файлом конфигурации
		_ = os.Setenv("AUTOSELL_SWAP_DRY_RUN", "true")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Debug:      cfg.Log.Debug,
		LogFile:    cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxAge:     cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
		Pretty:     cfg.Log.Pretty,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting autosell engine", zap.String("config", *configPath))

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("Engine stopped with error", zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}
	log.Info("Autosell engine stopped")
}
