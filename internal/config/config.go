package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LogSQL wraps the sqlite driver so every statement is logged at debug level.
	LogSQL bool

	WeatherAPIKey         string
	WeatherAPIBaseURL     string
	WeatherAPITimeout     time.Duration
	WeatherBreakerEnabled bool

	// Locations are the queries refreshed by the collector and the fetch command
	// when no arguments are given.
	Locations        []string
	BatchDelay       time.Duration
	BatchConcurrency int
	// CollectSchedule is a robfig/cron spec ("@every 30m", "0 * * * *"). Empty disables the collector.
	CollectSchedule string
	// RetentionDays of zero keeps history forever.
	RetentionDays int

	// MQTTBroker empty disables publishing.
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := envOr("HTTP_ADDR", ":8080")

	driver := envOr("DB_DRIVER", "sqlite3")
	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	path := envOr("SQLITE_PATH", "data/weather.db")

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	logSQL, err := envBool("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}

	apiTimeout, err := envDuration("WEATHER_API_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	if apiTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid WEATHER_API_TIMEOUT %q: must be > 0", os.Getenv("WEATHER_API_TIMEOUT"))
	}
	breakerEnabled, err := envBool("WEATHER_BREAKER_ENABLED", true)
	if err != nil {
		return Config{}, err
	}

	batchDelay, err := envDuration("BATCH_DELAY", time.Second)
	if err != nil {
		return Config{}, err
	}
	batchConcurrency, err := envInt("BATCH_CONCURRENCY", 1)
	if err != nil {
		return Config{}, err
	}
	if batchConcurrency < 1 {
		return Config{}, fmt.Errorf("invalid BATCH_CONCURRENCY %d: must be >= 1", batchConcurrency)
	}
	retentionDays, err := envInt("RETENTION_DAYS", 0)
	if err != nil {
		return Config{}, err
	}
	if retentionDays < 0 {
		return Config{}, fmt.Errorf("invalid RETENTION_DAYS %d: must be >= 0", retentionDays)
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		HTTPAddr:        httpAddr,
		Driver:          driver,
		DSN:             dsn,
		Path:            path,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		LogSQL:          logSQL,

		WeatherAPIKey:         strings.TrimSpace(os.Getenv("WEATHER_API_KEY")),
		WeatherAPIBaseURL:     strings.TrimRight(envOr("WEATHER_API_BASE_URL", "https://api.weatherapi.com/v1"), "/"),
		WeatherAPITimeout:     apiTimeout,
		WeatherBreakerEnabled: breakerEnabled,

		Locations:        parseLocations(os.Getenv("WEATHER_LOCATIONS")),
		BatchDelay:       batchDelay,
		BatchConcurrency: batchConcurrency,
		CollectSchedule:  strings.TrimSpace(os.Getenv("COLLECT_SCHEDULE")),
		RetentionDays:    retentionDays,

		MQTTBroker:      strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:        mqttPort,
		MQTTClientID:    strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID")),
		MQTTTopicPrefix: strings.Trim(envOr("MQTT_TOPIC_PREFIX", "weather"), "/"),
	}, nil
}

// RequireAPIKey reports a config error for commands that talk to the weather API.
func (c Config) RequireAPIKey() error {
	if c.WeatherAPIKey == "" {
		return fmt.Errorf("WEATHER_API_KEY is required")
	}
	return nil
}

// parseLocations splits on ';' so that queries like "London,UK" survive intact.
func parseLocations(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
