package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"weatherpipe/internal/config"
	"weatherpipe/internal/db"
	"weatherpipe/internal/migrate"
	"weatherpipe/internal/modules/weather/repository"
)

var ErrNoLocations = errors.New("no locations given and WEATHER_LOCATIONS is empty")

type fetchLine struct {
	Location string   `json:"location"`
	Success  bool     `json:"success"`
	ID       int64    `json:"id,omitempty"`
	Inserted bool     `json:"inserted,omitempty"`
	TempC    *float64 `json:"temperatureC,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Fetch refreshes queries (or cfg.Locations when empty) once and writes one
// JSON line per location to out. It fails when any location failed.
func Fetch(ctx context.Context, cfg config.Config, logger *slog.Logger, queries []string, out io.Writer) error {
	if len(queries) == 0 {
		queries = cfg.Locations
	}
	if len(queries) == 0 {
		return ErrNoLocations
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(dbConn, logger)

	publisher := startPublisher(ctx, cfg, logger)
	if publisher != nil {
		defer publisher.Disconnect()
	}

	feature := newFeature(cfg, dbConn, logger, nil, publisher)
	if err := feature.Repository.EnsureSchema(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, r := range feature.Pipeline.BatchUpdate(ctx, queries) {
		line := fetchLine{Location: r.Location, Success: r.Success, ID: r.ID, Inserted: r.Inserted}
		if r.Record != nil {
			t := r.Record.TemperatureC
			line.TempC = &t
		}
		if r.Err != nil {
			failed++
			line.Error = r.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d locations failed", failed, len(queries))
	}
	return nil
}

// Migrate applies pending schema migrations and reports each applied file.
func Migrate(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(dbConn, logger)

	applied, err := migrate.Run(ctx, dbConn, logger)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		_, err = fmt.Fprintln(out, "schema up to date")
		return err
	}
	for _, name := range applied {
		if _, err := fmt.Fprintln(out, "applied", name); err != nil {
			return err
		}
	}
	return nil
}

// Prune deletes records older than the given number of days, defaulting to
// RETENTION_DAYS.
func Prune(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	days := cfg.RetentionDays
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid days %q: must be a positive integer", args[0])
		}
		days = n
	}
	if days < 1 {
		return errors.New("retention disabled: pass days or set RETENTION_DAYS")
	}

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB(dbConn, logger)

	repo := repository.NewRepository(dbConn, repository.WithLogger(logger))
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "deleted %d records observed before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return err
}
