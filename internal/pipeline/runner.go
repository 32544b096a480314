// Package pipeline runs batch prediction cycles and schedules them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
	"github.com/couchcryptid/aqi-predict-service/internal/observability"
)

// Defaults applied when options are not set.
const (
	DefaultBatchSize   = 50
	DefaultFetchLimit  = 1000
	DefaultConcurrency = 4

	publishTimeout = 10 * time.Second
)

// Cycle stages reported in CycleError.
const (
	stageLock   = "lock"
	stageCount  = "count"
	stageFetch  = "fetch"
	stageBegin  = "begin"
	stageScore  = "score"
	stageCommit = "commit"
)

// HintSource obtains a hint image for a severity tier. It never fails.
type HintSource interface {
	HintImage(ctx context.Context, tier domain.Tier) domain.HintImage
}

// Publisher forwards committed results to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events []domain.PredictionEvent) error
}

// CycleLock guards a cycle against concurrent runs in other processes.
type CycleLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// Report summarises one batch cycle.
type Report struct {
	CycleID   string
	Pending   int
	Fetched   int
	Processed int
	Failures  []*domain.RowError
	Commits   int
	Duration  time.Duration
}

// Runner executes batch cycles: fetch unhandled observations, score them in
// one batch, classify, attach a hint image and record each result.
type Runner struct {
	store       domain.ObservationStore
	predictor   domain.Predictor
	hints       HintSource
	publisher   Publisher
	lock        CycleLock
	metrics     *observability.Metrics
	logger      *slog.Logger
	batchSize   int
	fetchLimit  int
	concurrency int
}

// Option configures a Runner.
type Option func(*Runner)

// WithBatchSize sets how many successful rows are grouped into one commit.
func WithBatchSize(n int) Option {
	return func(r *Runner) { r.batchSize = n }
}

// WithFetchLimit caps how many observations one cycle reads.
func WithFetchLimit(n int) Option {
	return func(r *Runner) { r.fetchLimit = n }
}

// WithConcurrency bounds how many hint images are requested at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithPublisher publishes an event for every committed result.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithLock makes every cycle hold the lock while it runs.
func WithLock(l CycleLock) Option {
	return func(r *Runner) { r.lock = l }
}

// NewRunner creates a Runner with the given collaborators.
func NewRunner(store domain.ObservationStore, predictor domain.Predictor, hints HintSource, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		predictor:   predictor,
		hints:       hints,
		metrics:     metrics,
		logger:      logger,
		batchSize:   DefaultBatchSize,
		fetchLimit:  DefaultFetchLimit,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.batchSize < 1 {
		r.batchSize = DefaultBatchSize
	}
	if r.fetchLimit < 1 {
		r.fetchLimit = DefaultFetchLimit
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// RunCycle processes one batch of unhandled observations.
//
// It returns domain.ErrNoWork when nothing is pending, domain.ErrCycleBusy when
// another process holds the lock, a *domain.CycleError when the batch had to
// be abandoned, and the context error when cancelled. On cancellation rows
// already written are committed before returning.
func (r *Runner) RunCycle(ctx context.Context) (report Report, err error) {
	start := time.Now()
	report.CycleID = uuid.NewString()
	logger := r.logger.With("cycle_id", report.CycleID)

	defer func() {
		report.Duration = time.Since(start)
		r.metrics.CyclesTotal.WithLabelValues(outcome(err)).Inc()
		if err == nil {
			r.metrics.CycleDuration.Observe(report.Duration.Seconds())
		}
	}()

	if r.lock != nil {
		locked, lockErr := r.lock.TryLock()
		if lockErr != nil {
			return report, &domain.CycleError{Stage: stageLock, Cause: lockErr}
		}
		if !locked {
			return report, domain.ErrCycleBusy
		}
		defer func() {
			if unlockErr := r.lock.Unlock(); unlockErr != nil {
				logger.Warn("release cycle lock failed", "error", unlockErr)
			}
		}()
	}

	pending, err := r.store.CountUnhandled(ctx)
	if err != nil {
		return report, cycleFailure(ctx, stageCount, err)
	}
	report.Pending = pending
	if pending == 0 {
		return report, domain.ErrNoWork
	}

	observations, err := r.store.FetchUnhandled(ctx, r.fetchLimit)
	if err != nil {
		return report, cycleFailure(ctx, stageFetch, err)
	}
	report.Fetched = len(observations)
	r.metrics.ObservationsFetched.Add(float64(len(observations)))
	logger.Info("cycle started", "pending", pending, "fetched", len(observations))

	c := &cycle{
		runner: r,
		report: &report,
		logger: logger,
		dbCtx:  context.WithoutCancel(ctx),
	}
	if err := c.begin(); err != nil {
		return report, err
	}

	if err := c.run(ctx, observations); err != nil {
		if rbErr := c.uow.Rollback(); rbErr != nil {
			logger.Warn("rollback failed", "error", rbErr)
		}
		logger.Error("cycle aborted", "error", err, "processed", report.Processed)
		return report, err
	}

	if err := c.commit(); err != nil {
		_ = c.uow.Rollback()
		logger.Error("cycle aborted", "error", err, "processed", report.Processed)
		return report, err
	}

	if ctx.Err() != nil {
		logger.Info("cycle interrupted", "processed", report.Processed, "failures", len(report.Failures))
		return report, ctx.Err()
	}

	logger.Info("cycle complete",
		"processed", report.Processed,
		"failures", len(report.Failures),
		"commits", report.Commits,
		"duration", time.Since(start),
	)
	return report, nil
}

// cycle carries the state of one RunCycle call. Only the writer goroutine
// touches it.
type cycle struct {
	runner *Runner
	report *Report
	logger *slog.Logger
	dbCtx  context.Context

	uow         domain.UnitOfWork
	uncommitted []domain.PredictionEvent
}

type scored struct {
	observation domain.Observation
	aqi         float64
}

type outcomeRow struct {
	result domain.PredictionResult
	source string
}

// run validates, scores and records the observations. Returns a
// *domain.CycleError when the batch must be abandoned; cancellation is not an
// error here so completed rows can still be committed.
func (c *cycle) run(ctx context.Context, observations []domain.Observation) error {
	valid := make([]domain.Observation, 0, len(observations))
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			c.fail(obs.ID, domain.StageValidate, err)
			continue
		}
		valid = append(valid, obs)
	}
	if len(valid) == 0 {
		return nil
	}

	predictions, err := c.score(ctx, valid)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	rows := make([]scored, 0, len(valid))
	for i, aqi := range predictions {
		if math.IsNaN(aqi) || math.IsInf(aqi, 0) {
			c.fail(valid[i].ID, domain.StageScore, fmt.Errorf("model returned non-finite AQI %v", aqi))
			continue
		}
		rows = append(rows, scored{observation: valid[i], aqi: aqi})
	}

	return c.annotateAndWrite(ctx, rows)
}

func (c *cycle) score(ctx context.Context, observations []domain.Observation) ([]float64, error) {
	start := time.Now()
	predictions, err := domain.Score(ctx, c.runner.predictor, observations)
	c.runner.metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &domain.CycleError{Stage: stageScore, Cause: err}
	}
	c.logger.Debug("batch scored", "rows", len(observations), "duration", time.Since(start))
	return predictions, nil
}

// annotateAndWrite fans hint image requests out over a bounded worker pool
// while the calling goroutine records each finished row.
func (c *cycle) annotateAndWrite(ctx context.Context, rows []scored) error {
	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan outcomeRow)
	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(c.runner.concurrency)

	go func() {
		defer close(out)
		for _, row := range rows {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				tier := domain.Classify(row.aqi)
				hint := c.runner.hints.HintImage(gctx, tier)
				select {
				case out <- outcomeRow{
					result: domain.NewPredictionResult(row.observation, row.aqi, tier, hint),
					source: hint.Source,
				}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		_ = g.Wait()
	}()

	var err error
	for o := range out {
		if ctx.Err() != nil {
			break
		}
		if err = c.write(o); err != nil {
			break
		}
	}
	cancel()
	for range out {
	}
	return err
}

// write records one row and commits when the batch is full.
func (c *cycle) write(o outcomeRow) error {
	c.runner.metrics.HintImages.WithLabelValues(o.source).Inc()

	if err := c.uow.Record(c.dbCtx, o.result); err != nil {
		c.fail(o.result.ObservationID, domain.StageWrite, err)
		return nil
	}
	c.uncommitted = append(c.uncommitted, o.result.Event())
	c.logger.Debug("result recorded",
		"observation_id", o.result.ObservationID,
		"aqi", o.result.AQI,
		"aqi_level", int(o.result.Level),
		"hint_source", o.source,
	)

	if len(c.uncommitted) < c.runner.batchSize {
		return nil
	}
	if err := c.commit(); err != nil {
		return err
	}
	return c.begin()
}

func (c *cycle) begin() error {
	uow, err := c.runner.store.Begin(c.dbCtx)
	if err != nil {
		return &domain.CycleError{Stage: stageBegin, Cause: err}
	}
	c.uow = uow
	return nil
}

func (c *cycle) commit() error {
	if err := c.uow.Commit(); err != nil {
		return &domain.CycleError{Stage: stageCommit, Cause: err}
	}
	events := c.uncommitted
	c.uncommitted = nil

	c.report.Commits++
	c.report.Processed += len(events)
	c.runner.metrics.Commits.Inc()
	c.runner.metrics.PredictionsWritten.Add(float64(len(events)))
	c.logger.Debug("batch committed", "rows", len(events), "processed", c.report.Processed)

	c.publish(events)
	return nil
}

// publish forwards committed results. Failures are counted, never fatal: the
// results are already durable.
func (c *cycle) publish(events []domain.PredictionEvent) {
	if c.runner.publisher == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(c.dbCtx, publishTimeout)
	defer cancel()

	if err := c.runner.publisher.Publish(ctx, events); err != nil {
		c.runner.metrics.EventPublishFailures.Add(float64(len(events)))
		c.logger.Warn("publish prediction events failed", "error", err, "count", len(events))
	}
}

// fail records a row-level failure. The observation stays unhandled.
func (c *cycle) fail(observationID int64, stage string, cause error) {
	rowErr := &domain.RowError{ObservationID: observationID, Stage: stage, Cause: cause}
	c.report.Failures = append(c.report.Failures, rowErr)
	c.runner.metrics.RowFailures.WithLabelValues(stage).Inc()
	c.logger.Warn("observation failed", "observation_id", observationID, "stage", stage, "error", cause)

	if err := c.uow.RecordFailure(c.dbCtx, observationID, rowErr); err != nil {
		c.logger.Warn("record failure failed", "observation_id", observationID, "error", err)
	}
}

func cycleFailure(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &domain.CycleError{Stage: stage, Cause: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrNoWork):
		return "no_work"
	case errors.Is(err, domain.ErrCycleBusy):
		return "busy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
