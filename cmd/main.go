package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"weatherpipe/internal/app"
	"weatherpipe/internal/config"
	"weatherpipe/internal/logging"
)

const appName = "weatherpipe"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

const usage = `usage: %s [command] [args]
  serve               run the HTTP API and the scheduled collector (default)
  fetch [location...] fetch and store the given locations (or WEATHER_LOCATIONS) once
  migrate             apply pending schema migrations
  prune [days]        delete records older than days (or RETENTION_DAYS)
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		slog.Info("starting", "version", version, "env", cfg.AppEnv, "log_level", cfg.LogLevel.String())
		err = app.Run(ctx, cfg, logger)
	case "fetch":
		err = app.Fetch(ctx, cfg, logger, args, os.Stdout)
	case "migrate":
		err = app.Migrate(ctx, cfg, logger, os.Stdout)
	case "prune":
		err = app.Prune(ctx, cfg, logger, args, os.Stdout)
	case "help", "-h", "--help":
		fmt.Fprintf(os.Stdout, usage, os.Args[0])
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error(cmd+" failed", "err", err)
		os.Exit(1)
	}
	slog.Info("shutting down")
}
