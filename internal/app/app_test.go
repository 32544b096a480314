package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/replicate"
	"github.com/couchcryptid/aqi-predict-service/internal/config"
	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DatabaseDriver: config.DriverSQLite,
		DatabaseURL:    "file:" + filepath.Join(dir, "aqi.db") + "?_pragma=busy_timeout(5000)",
		MigrateOnStart: true,
		BatchSize:      50,
		FetchLimit:     1000,
		MaxRowAttempts: 5,
		LockPath:       filepath.Join(dir, "run", "aqi-predict.lock"),
		ModelPath:      filepath.Join(dir, "missing.onnx"),

		DailyHour:        1,
		ScheduleInterval: 10 * time.Minute,
		ScheduleTick:     time.Minute,
		ScheduleCooldown: 5 * time.Minute,

		ReplicateModel:   "stability-ai/stable-diffusion",
		ImageTimeout:     time.Second,
		ImageConcurrency: 2,
		ImageSize:        1024,
		ImageSteps:       75,
		ImageGuidance:    8.5,
		ImageCacheSize:   8,
		ImageCacheTTL:    time.Hour,
	}
}

func TestOpenStore_Migrates(t *testing.T) {
	cfg := testConfig(t)
	st, err := OpenStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	v, err := st.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Positive(t, v)

	n, err := st.CountUnhandled(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuild_MissingModelIsStartupFailure(t *testing.T) {
	cfg := testConfig(t)
	_, err := Build(context.Background(), cfg, observability.NewMetricsForTesting(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model artifact")
}

func TestNewGenerator_Disabled(t *testing.T) {
	cfg := testConfig(t)
	metrics := observability.NewMetricsForTesting()

	gen, closer := newGenerator(context.Background(), cfg, metrics, discardLogger())
	assert.Nil(t, gen)
	assert.Nil(t, closer)
	assert.Zero(t, testutil.ToFloat64(metrics.ImageGenEnabled))
}

func TestNewGenerator_EnabledUsesMemoryCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImageEnabled = true
	cfg.ReplicateToken = "r8_test"
	metrics := observability.NewMetricsForTesting()

	gen, closer := newGenerator(context.Background(), cfg, metrics, discardLogger())
	require.NotNil(t, gen)
	assert.Nil(t, closer)
	assert.IsType(t, &replicate.CachedGenerator{}, gen)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ImageGenEnabled), 0)
}

func TestNewGenerator_UnreachableRedisFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImageEnabled = true
	cfg.ReplicateToken = "r8_test"
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	gen, closer := newGenerator(context.Background(), cfg, observability.NewMetricsForTesting(), discardLogger())
	require.NotNil(t, gen)
	assert.Nil(t, closer)
}

func TestSchedule_FromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DailyMinute = 30

	s := schedule(cfg)
	assert.Equal(t, 1, s.DailyHour)
	assert.Equal(t, 30, s.DailyMinute)
	assert.Equal(t, 10*time.Minute, s.Interval)
	assert.Equal(t, domain.ImageSpec{Size: 1024, Steps: 75, Guidance: 8.5}, imageSpec(cfg))
}
