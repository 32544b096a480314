//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/store"
	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("aqi-predict-test"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "aqi.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	s, err := store.Open(context.Background(), store.DriverSQLite, dsn, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seedObservations inserts one observation per temperature, a day apart.
func seedObservations(t *testing.T, s *store.Store, temps ...float64) []int64 {
	t.Helper()
	obs := make([]domain.Observation, len(temps))
	for i, temp := range temps {
		date := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		obs[i] = domain.Observation{
			Site:    "Beijing",
			Station: "54511099999",
			Date:    date,
			Name:    "BEIJING, CH",
			Temp:    temp,
			Dewp:    14.2,
			Stp:     1021.7,
			Visib:   3.1,
			Wdsp:    4.4,
			Mxspd:   9.9,
			Max:     temp + 8,
			Min:     temp - 8,
			Prcp:    0,
			Month:   domain.MonthOf(date),
		}
	}
	ids, err := s.InsertObservations(context.Background(), obs)
	require.NoError(t, err)
	return ids
}

// scaledPredictor scores a row as a multiple of its temperature.
type scaledPredictor struct{ factor float64 }

func (p scaledPredictor) Predict(_ context.Context, rows domain.FeatureMatrix) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = float64(row[0]) * p.factor
	}
	return out, nil
}
