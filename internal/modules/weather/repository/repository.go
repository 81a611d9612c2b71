package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"weatherpipe/internal/migrate"
	"weatherpipe/internal/modules/weather/types"
)

//go:embed sql/insert-record.sql
var insertRecordSQL string

//go:embed sql/upsert-record.sql
var upsertRecordSQL string

//go:embed sql/refresh-location.sql
var refreshLocationSQL string

//go:embed sql/get-latest-by-location.sql
var getLatestByLocationSQL string

//go:embed sql/get-history-by-location.sql
var getHistoryByLocationSQL string

//go:embed sql/get-recent.sql
var getRecentSQL string

//go:embed sql/has-locations-table.sql
var hasLocationsTableSQL string

//go:embed sql/get-location-names.sql
var getLocationNamesSQL string

//go:embed sql/get-distinct-location-names.sql
var getDistinctLocationNamesSQL string

//go:embed sql/get-locations.sql
var getLocationsSQL string

//go:embed sql/get-locations-aggregate.sql
var getLocationsAggregateSQL string

//go:embed sql/delete-older-than.sql
var deleteOlderThanSQL string

//go:embed sql/sync-locations.sql
var syncLocationsSQL string

//go:embed sql/get-stats.sql
var getStatsSQL string

// timeLayout is fixed width so that text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type WeatherRepository interface {
	EnsureSchema(ctx context.Context) error
	// Insert appends rec unconditionally. Inserted rows carry no time bucket
	// and never take part in Upsert deduplication.
	Insert(ctx context.Context, rec types.Record) (int64, error)
	// Upsert stores rec keyed by (location, country, hour bucket). A second
	// write in the same bucket overwrites the metrics of the existing row.
	Upsert(ctx context.Context, rec types.Record) (types.UpsertResult, error)
	// GetLatestByLocation returns nil, nil when nothing is stored for name.
	GetLatestByLocation(ctx context.Context, name string) (*types.Record, error)
	GetHistoryByLocation(ctx context.Context, name string, limit int) ([]types.Record, error)
	GetAllLocations(ctx context.Context) ([]string, error)
	GetLocations(ctx context.Context) ([]types.Location, error)
	GetRecent(ctx context.Context, limit int) ([]types.Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	GetStats(ctx context.Context) (types.Stats, error)
}

type Option func(*repositoryImpl)

// WithClock replaces time.Now for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(r *repositoryImpl) { r.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *repositoryImpl) { r.logger = logger }
}

type repositoryImpl struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewRepository(db *sql.DB, opts ...Option) WeatherRepository {
	r := &repositoryImpl{db: db, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *repositoryImpl) EnsureSchema(ctx context.Context) error {
	if _, err := migrate.Run(ctx, r.db, r.logger); err != nil {
		return storageErr("ensure schema", err)
	}
	return nil
}

func (r *repositoryImpl) Insert(ctx context.Context, rec types.Record) (int64, error) {
	if err := normalizeRecord(&rec); err != nil {
		return 0, err
	}
	now := formatTime(r.now())

	var id int64
	err := r.inTx(ctx, "insert", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertRecordSQL, recordArgs(rec, nil, now)...)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return refreshLocation(ctx, tx, rec, now)
	})
	return id, err
}

func (r *repositoryImpl) Upsert(ctx context.Context, rec types.Record) (types.UpsertResult, error) {
	if err := normalizeRecord(&rec); err != nil {
		return types.UpsertResult{}, err
	}
	now := formatTime(r.now())
	bucket := formatTime(rec.TimeBucket())

	var out types.UpsertResult
	err := r.inTx(ctx, "upsert", func(tx *sql.Tx) error {
		var revision int
		if err := tx.QueryRowContext(ctx, upsertRecordSQL, recordArgs(rec, bucket, now)...).Scan(&out.ID, &revision); err != nil {
			return err
		}
		out.Inserted = revision == 1
		return refreshLocation(ctx, tx, rec, now)
	})
	if err != nil {
		if errors.Is(err, ErrConstraintViolation) {
			r.logger.Error("upsert constraint violation", "location", rec.LocationName, "country", rec.Country, "bucket", bucket, "err", err)
		}
		return types.UpsertResult{}, err
	}
	r.logger.Debug("upsert", "id", out.ID, "inserted", out.Inserted, "location", rec.LocationName, "bucket", bucket)
	return out, nil
}

func (r *repositoryImpl) GetLatestByLocation(ctx context.Context, name string) (*types.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	rec, err := scanRecord(r.db.QueryRowContext(ctx, getLatestByLocationSQL, types.Fold(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get latest", err)
	}
	return &rec, nil
}

func (r *repositoryImpl) GetHistoryByLocation(ctx context.Context, name string, limit int) ([]types.Record, error) {
	name = strings.TrimSpace(name)
	if limit <= 0 || name == "" {
		return []types.Record{}, nil
	}
	return r.queryRecords(ctx, "get history", getHistoryByLocationSQL, types.Fold(name), limit)
}

func (r *repositoryImpl) GetRecent(ctx context.Context, limit int) ([]types.Record, error) {
	if limit <= 0 {
		return []types.Record{}, nil
	}
	return r.queryRecords(ctx, "get recent", getRecentSQL, limit)
}

// GetAllLocations reads the summary table, or the records themselves when the
// summary table is missing.
func (r *repositoryImpl) GetAllLocations(ctx context.Context) ([]string, error) {
	query := getDistinctLocationNamesSQL
	ok, err := r.hasLocationsTable(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		query = getLocationNamesSQL
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("get all locations", err)
	}
	defer r.closeRows(rows, "location names")

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storageErr("scan location name", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get all locations", err)
	}
	return out, nil
}

func (r *repositoryImpl) GetLocations(ctx context.Context) ([]types.Location, error) {
	query := getLocationsAggregateSQL
	ok, err := r.hasLocationsTable(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		query = getLocationsSQL
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("get locations", err)
	}
	defer r.closeRows(rows, "locations")

	out := []types.Location{}
	for rows.Next() {
		var (
			loc             types.Location
			first, lastSeen string
		)
		if err := rows.Scan(&loc.Name, &loc.Region, &loc.Country, &loc.Latitude, &loc.Longitude,
			&loc.RecordCount, &first, &lastSeen); err != nil {
			return nil, storageErr("scan location", err)
		}
		if loc.FirstSeen, err = parseTime(first); err != nil {
			return nil, storageErr("parse first_seen", err)
		}
		if loc.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, storageErr("parse last_seen", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get locations", err)
	}
	return out, nil
}

// DeleteOlderThan removes records observed before cutoff and drops summary
// rows left without records.
func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.inTx(ctx, "delete older than", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, deleteOlderThanSQL, formatTime(cutoff))
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, syncLocationsSQL)
		return err
	})
	return n, err
}

func (r *repositoryImpl) GetStats(ctx context.Context) (types.Stats, error) {
	var (
		st               types.Stats
		earliest, latest sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, getStatsSQL).Scan(&st.TotalRecords, &st.TotalLocations, &earliest, &latest); err != nil {
		return types.Stats{}, storageErr("get stats", err)
	}
	for _, pair := range []struct {
		src sql.NullString
		dst **time.Time
	}{{earliest, &st.Earliest}, {latest, &st.Latest}} {
		if !pair.src.Valid {
			continue
		}
		t, err := parseTime(pair.src.String)
		if err != nil {
			return types.Stats{}, storageErr("parse stats time", err)
		}
		*pair.dst = &t
	}
	return st, nil
}

func (r *repositoryImpl) hasLocationsTable(ctx context.Context) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, hasLocationsTableSQL).Scan(&n); err != nil {
		return false, storageErr("inspect schema", err)
	}
	return n > 0, nil
}

func (r *repositoryImpl) queryRecords(ctx context.Context, op, query string, args ...any) ([]types.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer r.closeRows(rows, op)

	out := []types.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// inTx commits fn's writes or rolls all of them back.
func (r *repositoryImpl) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op+": begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error("rollback failed", "op", op, "err", rbErr)
		}
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op+": commit", err)
	}
	return nil
}

func refreshLocation(ctx context.Context, tx *sql.Tx, rec types.Record, now string) error {
	_, err := tx.ExecContext(ctx, refreshLocationSQL,
		types.Fold(rec.LocationName), types.Fold(rec.Country),
		rec.LocationName, rec.Country, rec.Region, rec.Latitude, rec.Longitude, now)
	if err != nil {
		return fmt.Errorf("refresh location: %w", err)
	}
	return nil
}

// normalizeRecord trims the key fields and derives the imperial units.
func normalizeRecord(rec *types.Record) error {
	rec.LocationName = strings.TrimSpace(rec.LocationName)
	rec.Country = strings.TrimSpace(rec.Country)
	switch {
	case rec.LocationName == "":
		return fmt.Errorf("%w: location name is empty", ErrInvalidRecord)
	case rec.ObservedAt.IsZero():
		return fmt.Errorf("%w: observation time is zero", ErrInvalidRecord)
	}
	rec.ApplyDerivedUnits()
	return nil
}

// recordArgs follows the column order of insert-record.sql and upsert-record.sql.
// A nil bucket stores NULL.
func recordArgs(rec types.Record, bucket any, now string) []any {
	_, offset := rec.ObservedAt.Zone()
	return []any{
		types.Fold(rec.LocationName), types.Fold(rec.Country),
		rec.LocationName, rec.Region, rec.Country, rec.Latitude, rec.Longitude,
		rec.LocalTime, formatTime(rec.ObservedAt), offset, bucket,
		rec.TemperatureC, rec.TemperatureF, rec.FeelsLikeC, rec.FeelsLikeF, rec.Humidity,
		rec.PressureMb, rec.PressureIn, rec.WindKph, rec.WindMph, rec.WindDegree, rec.WindDirection,
		rec.VisibilityKm, rec.VisibilityMiles, rec.UVIndex,
		rec.ConditionText, rec.ConditionIcon, rec.ConditionCode,
		now, now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (types.Record, error) {
	var (
		rec                          types.Record
		observedAt, created, updated string
		offset                       int
	)
	err := s.Scan(
		&rec.ID, &rec.LocationName, &rec.Region, &rec.Country, &rec.Latitude, &rec.Longitude,
		&rec.LocalTime, &observedAt, &offset,
		&rec.TemperatureC, &rec.TemperatureF, &rec.FeelsLikeC, &rec.FeelsLikeF, &rec.Humidity,
		&rec.PressureMb, &rec.PressureIn, &rec.WindKph, &rec.WindMph, &rec.WindDegree, &rec.WindDirection,
		&rec.VisibilityKm, &rec.VisibilityMiles, &rec.UVIndex,
		&rec.ConditionText, &rec.ConditionIcon, &rec.ConditionCode,
		&rec.Revision, &created, &updated,
	)
	if err != nil {
		return types.Record{}, err
	}
	if rec.ObservedAt, err = parseTime(observedAt); err != nil {
		return types.Record{}, err
	}
	if offset != 0 {
		rec.ObservedAt = rec.ObservedAt.In(time.FixedZone("", offset))
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return types.Record{}, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func (r *repositoryImpl) closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		r.logger.Error("close rows", "rows", what, "error", err)
	}
}
