package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

// ErrAlreadyHandled means the observation was consumed before this write.
var ErrAlreadyHandled = errors.New("observation already handled or missing")

// maxErrorLength caps failure messages stored per observation.
const maxErrorLength = 1000

// UnitOfWork bundles result writes into a single transaction. Every Record
// runs inside its own savepoint so one bad row never poisons the batch.
type UnitOfWork struct {
	tx *sqlx.Tx
}

// Record inserts the result and flips the observation's handled flag. On any
// error the row's effects are rolled back and the transaction stays usable.
func (u *UnitOfWork) Record(ctx context.Context, r domain.PredictionResult) error {
	return u.savepoint(ctx, "record_result", func() error {
		res, err := u.tx.ExecContext(ctx, u.tx.Rebind(`
			UPDATE gsod_data SET handled = TRUE
			WHERE id = ? AND (handled IS NULL OR handled = FALSE)`), r.ObservationID)
		if err != nil {
			return fmt.Errorf("mark handled: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark handled: %w", err)
		}
		if n != 1 {
			return ErrAlreadyHandled
		}

		_, err = u.tx.ExecContext(ctx, u.tx.Rebind(`
			INSERT INTO aqi_result (
				observation_id, site, station, date, name,
				temp, dewp, stp, visib, wdsp, mxspd, max, min, prcp, month,
				aqi, aqi_level, hint_image, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			r.ObservationID, r.Site, r.Station, r.Date, r.Name,
			r.Temp, r.Dewp, r.Stp, r.Visib, r.Wdsp, r.Mxspd, r.Max, r.Min, r.Prcp, r.Month,
			r.AQI, int(r.Level), r.HintImage, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		return nil
	})
}

// RecordFailure increments the observation's failure count.
func (u *UnitOfWork) RecordFailure(ctx context.Context, observationID int64, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return u.savepoint(ctx, "record_failure", func() error {
		_, err := u.tx.ExecContext(ctx, u.tx.Rebind(`
			INSERT INTO observation_failures (observation_id, attempts, last_error, updated_at)
			VALUES (?, 1, ?, ?)
			ON CONFLICT (observation_id) DO UPDATE SET
				attempts = observation_failures.attempts + 1,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at`),
			observationID, msg, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("record failure for observation %d: %w", observationID, err)
		}
		return nil
	})
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return errors.New("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

func (u *UnitOfWork) savepoint(ctx context.Context, name string, fn func() error) error {
	if u.tx == nil {
		return errors.New("transaction already completed")
	}
	if _, err := u.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := u.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		_, _ = u.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	if _, err := u.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
