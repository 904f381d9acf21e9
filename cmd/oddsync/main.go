// Command oddsync ingests prediction-market data from multiple platforms
// into a raw/canonical warehouse. It loads configuration, validates it,
// wires dependencies, sets up signal handling, and starts the application
// in the configured mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oddsync/oddsync/internal/app"
	"github.com/oddsync/oddsync/internal/config"
	"github.com/oddsync/oddsync/internal/domain"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	onceSource := flag.String("source", "", "source for mode=once (polymarket, kalshi, manifold, predictit)")
	onceLoad := flag.String("load", "", "load type for mode=once (full, delta)")
	flag.Parse()

	// Bootstrap logger; replaced once the configured level is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("oddsync starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.ToLower(cfg.Mode) == "once" {
		source := domain.Source(*onceSource)
		loadType := domain.LoadType(*onceLoad)
		if !source.Valid() || !loadType.Valid() {
			logger.Error("mode=once requires -source and -load flags",
				slog.String("source", *onceSource),
				slog.String("load", *onceLoad),
			)
			os.Exit(2)
		}
		if err := application.RunOnce(ctx, source, loadType); err != nil {
			logger.Error("one-shot run failed", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		logger.Info("oddsync stopped")
		return
	}

	if err := application.Run(ctx); err != nil {
		if err == context.Canceled {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("oddsync stopped")
}

// logLevel maps the configured level name onto a slog.Level.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
