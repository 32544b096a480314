//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-predict-service/internal/adapter/kafka"
	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
	"github.com/couchcryptid/aqi-predict-service/internal/pipeline"
)

const testSinkTopic = "test-aqi-predictions"

// publishedEvent holds a deserialized message read from the sink topic.
type publishedEvent struct {
	Event   domain.PredictionEvent
	Key     string
	Headers map[string]string
}

// readEvent reads a single message from the sink consumer and deserializes it.
func readEvent(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedEvent {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var event domain.PredictionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event), "unmarshal sink message")

	return publishedEvent{
		Event:   event,
		Key:     string(msg.Key),
		Headers: headers,
	}
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestWriterRoundTrip verifies that kafka.Writer produces keyed JSON events
// with classification headers.
func TestWriterRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	writer := kafka.NewWriter([]string{broker}, testSinkTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	processedAt := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)
	event := domain.PredictionEvent{
		ObservationID: 42,
		Site:          "Beijing",
		Station:       "54511099999",
		Date:          "2024-01-01",
		AQI:           163.5,
		Level:         int(domain.TierUnhealthy),
		Category:      domain.TierUnhealthy.Label(),
		Advice:        domain.TierUnhealthy.Advice(),
		ProcessedAt:   processedAt,
	}
	require.NoError(t, writer.Publish(ctx, []domain.PredictionEvent{event}))

	got := readEvent(ctx, t, newConsumer(t, broker))
	assert.Equal(t, "42", got.Key)
	assert.Equal(t, "4", got.Headers["aqi_level"])
	assert.Equal(t, processedAt.Format(time.RFC3339), got.Headers["processed_at"])
	assert.Equal(t, event.AQI, got.Event.AQI)
	assert.Equal(t, event.Category, got.Event.Category)
	assert.True(t, processedAt.Equal(got.Event.ProcessedAt))
}

// TestCycleEndToEnd runs a full cycle against a SQLite store and verifies
// that every committed result is announced on the sink topic.
func TestCycleEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	s := newStore(t)
	// At a factor of 3 these land in tiers 1, 2, 3, 4, 5 and 6.
	temps := []float64{10, 30, 45, 60, 90, 120}
	ids := seedObservations(t, s, temps...)

	writer := kafka.NewWriter([]string{broker}, testSinkTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	hints := domain.NewHintProvider(nil, domain.Locale{City: "Beijing"}, domain.ImageSpec{Size: 16}, 0, discardLogger())
	metrics := observability.NewMetricsForTesting()
	runner := pipeline.NewRunner(s, scaledPredictor{factor: 3}, hints, metrics, discardLogger(),
		pipeline.WithBatchSize(4),
		pipeline.WithPublisher(writer),
	)

	report, err := runner.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(temps), report.Processed)
	assert.Equal(t, 2, report.Commits)
	assert.Empty(t, report.Failures)

	consumer := newConsumer(t, broker)
	byID := make(map[int64]publishedEvent, len(temps))
	for len(byID) < len(temps) {
		ev := readEvent(ctx, t, consumer)
		byID[ev.Event.ObservationID] = ev
	}

	for i, id := range ids {
		ev, ok := byID[id]
		require.True(t, ok, "missing event for observation %d", id)

		want := domain.Classify(temps[i] * 3)
		assert.Equal(t, strconv.FormatInt(id, 10), ev.Key)
		assert.Equal(t, int(want), ev.Event.Level)
		assert.Equal(t, strconv.Itoa(int(want)), ev.Headers["aqi_level"])
		assert.Equal(t, want.Label(), ev.Event.Category)
		_, err := time.Parse(time.RFC3339, ev.Headers["processed_at"])
		assert.NoError(t, err, "processed_at should be valid RFC3339")
	}

	// The store agrees with what was published.
	n, err := s.CountUnhandled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A second cycle finds nothing and publishes nothing.
	_, err = runner.RunCycle(ctx)
	require.ErrorIs(t, err, domain.ErrNoWork)

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no further events on sink topic")
}
