// Package app assembles the service's components from configuration. Both the
// long-running service and the operator CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/kafka"
	"github.com/couchcryptid/aqi-predict-service/internal/adapter/onnx"
	"github.com/couchcryptid/aqi-predict-service/internal/adapter/redis"
	"github.com/couchcryptid/aqi-predict-service/internal/adapter/replicate"
	"github.com/couchcryptid/aqi-predict-service/internal/adapter/store"
	"github.com/couchcryptid/aqi-predict-service/internal/config"
	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
	"github.com/couchcryptid/aqi-predict-service/internal/pipeline"
)

// App holds the assembled components and releases them on Close.
type App struct {
	Config  *config.Config
	Store   *store.Store
	Runner  *pipeline.Runner
	Metrics *observability.Metrics
	Logger  *slog.Logger

	closers []func() error
}

// OpenStore connects to the configured database and applies migrations when
// MIGRATE_ON_START is set.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, logger, store.WithMaxAttempts(cfg.MaxRowAttempts))
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}

// Build wires the store, model, hint image provider, optional event
// publisher and cycle lock into a Runner. Any failure here is a startup
// failure.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics, Logger: logger}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	model, err := onnx.Load(cfg.ModelPath, cfg.ONNXRuntimeLib)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, model.Close)
	logger.Info("model loaded", "path", cfg.ModelPath)

	generator, closeCache := newGenerator(ctx, cfg, metrics, logger)
	if closeCache != nil {
		a.closers = append(a.closers, closeCache)
	}
	hints := domain.NewHintProvider(
		generator,
		domain.Locale{City: cfg.HintCity, Features: cfg.HintCityFeatures},
		imageSpec(cfg),
		cfg.ImageTimeout,
		logger.With("component", "hints"),
	)

	opts := []pipeline.Option{
		pipeline.WithBatchSize(cfg.BatchSize),
		pipeline.WithFetchLimit(cfg.FetchLimit),
		pipeline.WithConcurrency(cfg.ImageConcurrency),
	}

	if cfg.KafkaEnabled {
		w := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaSinkTopic, logger.With("component", "kafka"))
		a.closers = append(a.closers, w.Close)
		opts = append(opts, pipeline.WithPublisher(w))
		logger.Info("result events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	if cfg.LockPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LockPath), 0o755); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
		opts = append(opts, pipeline.WithLock(flock.New(cfg.LockPath)))
	}

	a.Runner = pipeline.NewRunner(st, model, hints, metrics, logger.With("component", "runner"), opts...)
	return a, nil
}

// Scheduler returns a scheduler driving the app's runner on the configured
// schedule.
func (a *App) Scheduler() *pipeline.Scheduler {
	return pipeline.NewScheduler(pipeline.CycleJob(a.Runner), schedule(a.Config), nil, a.Metrics, a.Logger.With("component", "scheduler"))
}

// Close releases every component in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newGenerator returns the remote image generator, or nil when image
// generation is disabled so every hint degrades to the placeholder. An
// unreachable Redis falls back to the in-process cache.
func newGenerator(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (domain.ImageGenerator, func() error) {
	if !cfg.ImageEnabled {
		metrics.ImageGenEnabled.Set(0)
		logger.Info("hint image generation disabled, using placeholder images")
		return nil, nil
	}
	metrics.ImageGenEnabled.Set(1)

	client := replicate.NewClient(cfg.ReplicateToken, cfg.ReplicateModel, cfg.ReplicateBaseURL, cfg.ImageTimeout, metrics, logger.With("component", "replicate"))

	var cache replicate.ImageCache
	var closer func() error
	if cfg.RedisURL != "" {
		rc, err := redis.NewImageCache(ctx, cfg.RedisURL, cfg.ImageCacheTTL)
		if err != nil {
			logger.Warn("redis image cache unavailable, using in-process cache", "error", err)
		} else {
			cache, closer = rc, rc.Close
		}
	}
	if cache == nil {
		cache = replicate.NewMemoryCache(cfg.ImageCacheSize, cfg.ImageCacheTTL, nil)
	}

	logger.Info("hint image generation enabled",
		"model", cfg.ReplicateModel,
		"timeout", cfg.ImageTimeout,
		"cache_size", cfg.ImageCacheSize,
		"redis", closer != nil,
	)
	return replicate.NewCachedGenerator(client, cache, cfg.ImageTimeout, metrics, logger.With("component", "image_cache")), closer
}

func imageSpec(cfg *config.Config) domain.ImageSpec {
	return domain.ImageSpec{Size: cfg.ImageSize, Steps: cfg.ImageSteps, Guidance: cfg.ImageGuidance}
}

func schedule(cfg *config.Config) pipeline.Schedule {
	return pipeline.Schedule{
		DailyHour:   cfg.DailyHour,
		DailyMinute: cfg.DailyMinute,
		Interval:    cfg.ScheduleInterval,
		Tick:        cfg.ScheduleTick,
		Cooldown:    cfg.ScheduleCooldown,
	}
}
