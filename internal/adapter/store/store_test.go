package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "aqi.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	s, err := Open(context.Background(), DriverSQLite, dsn, discardLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testObservation(day int) domain.Observation {
	date := time.Date(2024, time.January, day, 0, 0, 0, 0, time.UTC)
	return domain.Observation{
		Site:    "BJ",
		Station: "545110-99999",
		Date:    date,
		Name:    "BEIJING, CH",
		Temp:    30 + float64(day),
		Dewp:    10,
		Stp:     1020,
		Visib:   5,
		Wdsp:    4,
		Mxspd:   8,
		Max:     40,
		Min:     20,
		Prcp:    0,
		Month:   domain.MonthOf(date),
	}
}

func seed(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	obs := make([]domain.Observation, n)
	for i := range obs {
		obs[i] = testObservation(i%28 + 1)
	}
	ids, err := s.InsertObservations(context.Background(), obs)
	require.NoError(t, err)
	require.Len(t, ids, n)
	return ids
}

func resultFor(obs domain.Observation, aqi float64) domain.PredictionResult {
	return domain.NewPredictionResult(obs, aqi, domain.Classify(aqi), domain.HintImage{Payload: "aW1n", Source: domain.HintSourceGenerated})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	v, err := s.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestFetchUnhandled_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ids := seed(t, s, 5)
	ctx := context.Background()

	n, err := s.CountUnhandled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.FetchUnhandled(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, obs := range got {
		assert.Equal(t, ids[i], obs.ID)
		assert.False(t, obs.IsHandled())
		assert.Nil(t, obs.Handled, "imported rows leave handled NULL")
		assert.NoError(t, obs.Validate())
	}
	assert.Equal(t, "BJ", got[0].Site)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), got[0].Date.UTC())
	assert.Equal(t, 1, got[0].Month)
}

func TestFetchUnhandled_NullMeasurementBecomesNaN(t *testing.T) {
	s := newTestStore(t)
	obs := testObservation(3)
	obs.Stp = math.NaN()
	_, err := s.InsertObservations(context.Background(), []domain.Observation{obs})
	require.NoError(t, err)

	got, err := s.FetchUnhandled(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, math.IsNaN(got[0].Stp))
	assert.Error(t, got[0].Validate())
}

func TestUnitOfWork_RecordMarksHandled(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 2)
	ctx := context.Background()

	obs, err := s.FetchUnhandled(ctx, 10)
	require.NoError(t, err)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Record(ctx, resultFor(obs[0], 123.4)))
	require.NoError(t, uow.Commit())

	n, err := s.CountUnhandled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := s.ResultFor(ctx, obs[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 123.4, stored.AQI, 1e-9)
	assert.Equal(t, domain.TierSensitive, stored.Level)
	assert.Equal(t, "aW1n", stored.HintImage)
	assert.Equal(t, obs[0].Site, stored.Site)
}

func TestUnitOfWork_WriteFailureLeavesNoTrace(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 2)
	ctx := context.Background()

	obs, err := s.FetchUnhandled(ctx, 10)
	require.NoError(t, err)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)

	bad := resultFor(obs[0], 80)
	bad.Level = domain.Tier(0) // violates the aqi_level check constraint
	require.Error(t, uow.Record(ctx, bad))

	// The transaction stays usable for the next row.
	require.NoError(t, uow.Record(ctx, resultFor(obs[1], 80)))
	require.NoError(t, uow.Commit())

	remaining, err := s.FetchUnhandled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, obs[0].ID, remaining[0].ID)
	assert.False(t, remaining[0].IsHandled())

	_, err = s.ResultFor(ctx, obs[0].ID)
	assert.Error(t, err)
}

func TestUnitOfWork_RecordTwiceRejected(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	obs, err := s.FetchUnhandled(ctx, 1)
	require.NoError(t, err)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Record(ctx, resultFor(obs[0], 40)))
	assert.ErrorIs(t, uow.Record(ctx, resultFor(obs[0], 40)), ErrAlreadyHandled)
	require.NoError(t, uow.Commit())

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Results)
	assert.Equal(t, 1, st.Handled)
}

func TestUnitOfWork_RollbackDiscards(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	obs, err := s.FetchUnhandled(ctx, 1)
	require.NoError(t, err)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Record(ctx, resultFor(obs[0], 40)))
	require.NoError(t, uow.Rollback())
	require.NoError(t, uow.Rollback(), "second rollback is a no-op")
	assert.Error(t, uow.Commit())

	n, err := s.CountUnhandled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnitOfWork_CommitSurvivesCanceledContext(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 1)

	ctx, cancel := context.WithCancel(context.Background())
	obs, err := s.FetchUnhandled(ctx, 1)
	require.NoError(t, err)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Record(context.Background(), resultFor(obs[0], 40)))
	cancel()
	require.NoError(t, uow.Commit())

	n, err := s.CountUnhandled(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeadLetter(t *testing.T) {
	s := newTestStore(t, WithMaxAttempts(2))
	ids := seed(t, s, 2)
	ctx := context.Background()

	for range 2 {
		uow, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, uow.RecordFailure(ctx, ids[0], errors.New("model rejected row")))
		require.NoError(t, uow.Commit())
	}

	n, err := s.CountUnhandled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.FetchUnhandled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ids[1], got[0].ID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.DeadLettered)
}

func TestDeadLetter_Disabled(t *testing.T) {
	s := newTestStore(t)
	ids := seed(t, s, 1)
	ctx := context.Background()

	for range 10 {
		uow, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, uow.RecordFailure(ctx, ids[0], errors.New("boom")))
		require.NoError(t, uow.Commit())
	}

	n, err := s.CountUnhandled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLatestResults(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 3)
	ctx := context.Background()

	obs, err := s.FetchUnhandled(ctx, 10)
	require.NoError(t, err)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	for i, o := range obs {
		require.NoError(t, uow.Record(ctx, resultFor(o, float64(40+i*100))))
	}
	require.NoError(t, uow.Commit())

	results, err := s.LatestResults(ctx, "BJ", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, obs[2].ID, results[0].ObservationID)
	assert.Equal(t, obs[1].ID, results[1].ObservationID)
	assert.Empty(t, results[0].HintImage)

	none, err := s.LatestResults(ctx, "SH", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Results)
	assert.Equal(t, 1, st.ByTier[domain.TierGood])
	assert.Equal(t, 1, st.ByTier[domain.TierSensitive])
	assert.Equal(t, 1, st.ByTier[domain.TierVeryUnhealthy])
}

func TestCheckReadiness(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CheckReadiness(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.CheckReadiness(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", discardLogger())
	assert.ErrorContains(t, err, "unsupported")
}
