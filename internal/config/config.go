package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Database drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseDriver  string
	DatabaseURL     string
	MigrateOnStart  bool
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Batch cycle configuration.
	BatchSize      int
	FetchLimit     int
	MaxRowAttempts int
	LockPath       string

	// Model configuration.
	ModelPath      string
	ONNXRuntimeLib string

	// Schedule configuration.
	DailyHour        int
	DailyMinute      int
	ScheduleInterval time.Duration
	ScheduleTick     time.Duration
	ScheduleCooldown time.Duration

	// Hint image configuration.
	ReplicateToken   string
	ReplicateModel   string
	ReplicateBaseURL string
	ImageEnabled     bool
	ImageTimeout     time.Duration
	ImageConcurrency int
	ImageSize        int
	ImageSteps       int
	ImageGuidance    float64
	ImageCacheSize   int
	ImageCacheTTL    time.Duration
	HintCity         string
	HintCityFeatures string
	RedisURL         string

	// Result event configuration.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseDriver:  sharedcfg.EnvOrDefault("DATABASE_DRIVER", DriverPostgres),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		BatchSize:       batchSize,
		LockPath:        sharedcfg.EnvOrDefault("LOCK_PATH", "tmp/aqi-predict.lock"),

		ModelPath:      sharedcfg.EnvOrDefault("MODEL_PATH", "models/aqi_predictor.onnx"),
		ONNXRuntimeLib: os.Getenv("ONNXRUNTIME_LIB"),

		ReplicateToken:   os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateModel:   sharedcfg.EnvOrDefault("REPLICATE_MODEL", "stability-ai/stable-diffusion"),
		ReplicateBaseURL: sharedcfg.EnvOrDefault("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		HintCity:         sharedcfg.EnvOrDefault("HINT_CITY", "Beijing"),
		HintCityFeatures: sharedcfg.EnvOrDefault("HINT_CITY_FEATURES", "modern skyscrapers, traditional hutongs, Forbidden City, Great Wall"),
		RedisURL:         os.Getenv("REDIS_URL"),

		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "aqi-predictions"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.MigrateOnStart, err = parseBool("MIGRATE_ON_START", true)
	collect(err)
	cfg.FetchLimit, err = parseInt("FETCH_LIMIT", 1000, 1)
	collect(err)
	cfg.MaxRowAttempts, err = parseInt("MAX_ROW_ATTEMPTS", 5, 0)
	collect(err)
	cfg.DailyHour, cfg.DailyMinute, err = parseClock("SCHEDULE_DAILY_AT", "01:00")
	collect(err)
	cfg.ScheduleInterval, err = parseDuration("SCHEDULE_INTERVAL", 10*time.Minute)
	collect(err)
	cfg.ScheduleTick, err = parseDuration("SCHEDULE_TICK", time.Minute)
	collect(err)
	cfg.ScheduleCooldown, err = parseDuration("SCHEDULE_COOLDOWN", 5*time.Minute)
	collect(err)
	cfg.ImageEnabled, err = parseBool("IMAGE_ENABLED", cfg.ReplicateToken != "")
	collect(err)
	cfg.ImageTimeout, err = parseDuration("IMAGE_TIMEOUT", 90*time.Second)
	collect(err)
	cfg.ImageConcurrency, err = parseInt("IMAGE_CONCURRENCY", 4, 1)
	collect(err)
	cfg.ImageSize, err = parseInt("IMAGE_SIZE", 1024, 64)
	collect(err)
	cfg.ImageSteps, err = parseInt("IMAGE_STEPS", 75, 1)
	collect(err)
	cfg.ImageGuidance, err = parseFloat("IMAGE_GUIDANCE", 8.5)
	collect(err)
	cfg.ImageCacheSize, err = parseInt("IMAGE_CACHE_SIZE", 64, 1)
	collect(err)
	cfg.ImageCacheTTL, err = parseDuration("IMAGE_CACHE_TTL", 6*time.Hour)
	collect(err)
	cfg.KafkaEnabled, err = parseBool("KAFKA_ENABLED", false)
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.ImageEnabled && cfg.ReplicateToken == "" {
		return nil, errors.New("IMAGE_ENABLED is true but REPLICATE_API_TOKEN is not set")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: %q (must be an integer >= %d)", key, s, minimum)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return f, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, s)
	}
	return b, nil
}

// parseClock reads an HH:MM wall-clock time.
func parseClock(key, def string) (hour, minute int, err error) {
	s := strings.TrimSpace(sharedcfg.EnvOrDefault(key, def))
	t, perr := time.Parse("15:04", s)
	if perr != nil {
		return 0, 0, fmt.Errorf("invalid %s: %q (expected HH:MM)", key, s)
	}
	return t.Hour(), t.Minute(), nil
}
