// Package store persists observations and prediction results in PostgreSQL
// (production) or SQLite (single node and tests) through sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

// Supported drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Store is the sqlx-backed observation and result repository.
type Store struct {
	db          *sqlx.DB
	driver      string
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts dead-letters observations after n recorded failures.
// Zero disables the limit.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger, opts ...Option) (*Store, error) {
	var db *sqlx.DB
	switch driver {
	case DriverPostgres:
		conn, err := sqlx.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(time.Hour)
		conn.SetConnMaxIdleTime(30 * time.Minute)
		db = conn
	case DriverSQLite:
		conn, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		// SQLite allows one writer; a single connection keeps the
		// transaction and every statement on the same handle.
		conn.SetMaxOpenConns(1)
		db = sqlx.NewDb(conn, "sqlite3")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, driver: driver, logger: logger.With("component", "store")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CheckReadiness reports whether the store can serve queries.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

const unhandledPredicate = `(g.handled IS NULL OR g.handled = FALSE)`

// eligibleClause filters out dead-lettered observations. Its two placeholders
// both take the attempt limit.
const eligibleClause = `(? = 0 OR COALESCE(f.attempts, 0) < ?)`

// CountUnhandled returns the number of observations still awaiting a result.
func (s *Store) CountUnhandled(ctx context.Context) (int, error) {
	query := s.db.Rebind(`
		SELECT COUNT(*) FROM gsod_data g
		LEFT JOIN observation_failures f ON f.observation_id = g.id
		WHERE ` + unhandledPredicate + ` AND ` + eligibleClause)

	var n int
	if err := s.db.GetContext(ctx, &n, query, s.maxAttempts, s.maxAttempts); err != nil {
		return 0, fmt.Errorf("count unhandled observations: %w", err)
	}
	return n, nil
}

// FetchUnhandled returns up to limit unhandled observations, lowest id first.
func (s *Store) FetchUnhandled(ctx context.Context, limit int) ([]domain.Observation, error) {
	query := s.db.Rebind(`
		SELECT g.id, g.site, g.station, g.date, g.name,
		       g.temp, g.dewp, g.stp, g.visib, g.wdsp, g.mxspd, g.max, g.min, g.prcp,
		       g.month, g.handled
		FROM gsod_data g
		LEFT JOIN observation_failures f ON f.observation_id = g.id
		WHERE ` + unhandledPredicate + ` AND ` + eligibleClause + `
		ORDER BY g.id
		LIMIT ?`)

	var rows []observationRow
	if err := s.db.SelectContext(ctx, &rows, query, s.maxAttempts, s.maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("fetch unhandled observations: %w", err)
	}

	observations := make([]domain.Observation, len(rows))
	for i := range rows {
		observations[i] = rows[i].toDomain()
	}
	return observations, nil
}

// InsertObservations stores a batch of raw observations in one transaction
// and returns their assigned ids. The handled flag is left NULL.
func (s *Store) InsertObservations(ctx context.Context, observations []domain.Observation) ([]int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := tx.Rebind(`
		INSERT INTO gsod_data (site, station, date, name, temp, dewp, stp, visib, wdsp, mxspd, max, min, prcp, month)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	ids := make([]int64, 0, len(observations))
	for _, o := range observations {
		var id int64
		err := tx.GetContext(ctx, &id, query,
			o.Site, o.Station, o.Date, o.Name,
			nullable(o.Temp), nullable(o.Dewp), nullable(o.Stp), nullable(o.Visib), nullable(o.Wdsp),
			nullable(o.Mxspd), nullable(o.Max), nullable(o.Min), nullable(o.Prcp),
			o.Month,
		)
		if err != nil {
			return nil, fmt.Errorf("insert observation %s/%s: %w", o.Site, o.Date.Format(time.DateOnly), err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return ids, nil
}

// Begin opens a unit of work. The transaction is detached from ctx
// cancellation so rows completed before shutdown can still be committed.
func (s *Store) Begin(ctx context.Context) (domain.UnitOfWork, error) {
	tx, err := s.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Stats summarises the store for operators.
type Stats struct {
	Pending      int
	Handled      int
	DeadLettered int
	Results      int
	ByTier       map[domain.Tier]int
}

// Stats gathers pending, handled and dead-lettered counts plus results per tier.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error

	if st.Pending, err = s.CountUnhandled(ctx); err != nil {
		return st, err
	}
	if err := s.db.GetContext(ctx, &st.Handled,
		`SELECT COUNT(*) FROM gsod_data WHERE handled = TRUE`); err != nil {
		return st, fmt.Errorf("count handled observations: %w", err)
	}
	if s.maxAttempts > 0 {
		query := s.db.Rebind(`
			SELECT COUNT(*) FROM observation_failures f
			JOIN gsod_data g ON g.id = f.observation_id
			WHERE ` + unhandledPredicate + ` AND f.attempts >= ?`)
		if err := s.db.GetContext(ctx, &st.DeadLettered, query, s.maxAttempts); err != nil {
			return st, fmt.Errorf("count dead-lettered observations: %w", err)
		}
	}

	var tiers []struct {
		Level int `db:"aqi_level"`
		Count int `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &tiers,
		`SELECT aqi_level, COUNT(*) AS n FROM aqi_result GROUP BY aqi_level ORDER BY aqi_level`); err != nil {
		return st, fmt.Errorf("count results by tier: %w", err)
	}
	st.ByTier = make(map[domain.Tier]int, len(tiers))
	for _, t := range tiers {
		st.ByTier[domain.Tier(t.Level)] = t.Count
		st.Results += t.Count
	}
	return st, nil
}

// LatestResults returns the most recent results, newest observation date
// first, optionally filtered by site. Image payloads are not loaded.
func (s *Store) LatestResults(ctx context.Context, site string, limit int) ([]domain.PredictionResult, error) {
	query := `
		SELECT observation_id, site, station, date, name,
		       temp, dewp, stp, visib, wdsp, mxspd, max, min, prcp, month,
		       aqi, aqi_level, created_at
		FROM aqi_result`
	args := []any{}
	if site != "" {
		query += ` WHERE site = ?`
		args = append(args, site)
	}
	query += ` ORDER BY date DESC, observation_id DESC LIMIT ?`
	args = append(args, limit)

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select latest results: %w", err)
	}

	results := make([]domain.PredictionResult, len(rows))
	for i := range rows {
		results[i] = rows[i].toDomain()
	}
	return results, nil
}

// ResultFor loads the stored result for one observation, including its image.
func (s *Store) ResultFor(ctx context.Context, observationID int64) (domain.PredictionResult, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT observation_id, site, station, date, name,
		       temp, dewp, stp, visib, wdsp, mxspd, max, min, prcp, month,
		       aqi, aqi_level, hint_image, created_at
		FROM aqi_result WHERE observation_id = ?`), observationID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PredictionResult{}, fmt.Errorf("no result for observation %d: %w", observationID, err)
	}
	if err != nil {
		return domain.PredictionResult{}, fmt.Errorf("select result: %w", err)
	}
	return row.toDomain(), nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
