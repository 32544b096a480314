package store

import (
	"database/sql"
	"math"
	"time"

	"github.com/couchcryptid/aqi-predict-service/internal/domain"
)

type observationRow struct {
	ID      int64           `db:"id"`
	Site    string          `db:"site"`
	Station sql.NullString  `db:"station"`
	Date    time.Time       `db:"date"`
	Name    sql.NullString  `db:"name"`
	Temp    sql.NullFloat64 `db:"temp"`
	Dewp    sql.NullFloat64 `db:"dewp"`
	Stp     sql.NullFloat64 `db:"stp"`
	Visib   sql.NullFloat64 `db:"visib"`
	Wdsp    sql.NullFloat64 `db:"wdsp"`
	Mxspd   sql.NullFloat64 `db:"mxspd"`
	Max     sql.NullFloat64 `db:"max"`
	Min     sql.NullFloat64 `db:"min"`
	Prcp    sql.NullFloat64 `db:"prcp"`
	Month   sql.NullInt64   `db:"month"`
	Handled sql.NullBool    `db:"handled"`
}

// toDomain maps NULL measurements to NaN so validation rejects them as a
// row failure instead of scoring a zero.
func (r observationRow) toDomain() domain.Observation {
	obs := domain.Observation{
		ID:      r.ID,
		Site:    r.Site,
		Station: r.Station.String,
		Date:    r.Date,
		Name:    r.Name.String,
		Temp:    orNaN(r.Temp),
		Dewp:    orNaN(r.Dewp),
		Stp:     orNaN(r.Stp),
		Visib:   orNaN(r.Visib),
		Wdsp:    orNaN(r.Wdsp),
		Mxspd:   orNaN(r.Mxspd),
		Max:     orNaN(r.Max),
		Min:     orNaN(r.Min),
		Prcp:    orNaN(r.Prcp),
		Month:   int(r.Month.Int64),
	}
	if !r.Month.Valid {
		obs.Month = domain.MonthOf(r.Date)
	}
	if r.Handled.Valid {
		handled := r.Handled.Bool
		obs.Handled = &handled
	}
	return obs
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

type resultRow struct {
	ObservationID int64          `db:"observation_id"`
	Site          string         `db:"site"`
	Station       string         `db:"station"`
	Date          time.Time      `db:"date"`
	Name          string         `db:"name"`
	Temp          float64        `db:"temp"`
	Dewp          float64        `db:"dewp"`
	Stp           float64        `db:"stp"`
	Visib         float64        `db:"visib"`
	Wdsp          float64        `db:"wdsp"`
	Mxspd         float64        `db:"mxspd"`
	Max           float64        `db:"max"`
	Min           float64        `db:"min"`
	Prcp          float64        `db:"prcp"`
	Month         int            `db:"month"`
	AQI           float64        `db:"aqi"`
	Level         int            `db:"aqi_level"`
	HintImage     sql.NullString `db:"hint_image"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r resultRow) toDomain() domain.PredictionResult {
	return domain.PredictionResult{
		ObservationID: r.ObservationID,
		Site:          r.Site,
		Station:       r.Station,
		Date:          r.Date,
		Name:          r.Name,
		Temp:          r.Temp,
		Dewp:          r.Dewp,
		Stp:           r.Stp,
		Visib:         r.Visib,
		Wdsp:          r.Wdsp,
		Mxspd:         r.Mxspd,
		Max:           r.Max,
		Min:           r.Min,
		Prcp:          r.Prcp,
		Month:         r.Month,
		AQI:           r.AQI,
		Level:         domain.Tier(r.Level),
		HintImage:     r.HintImage.String,
		CreatedAt:     r.CreatedAt,
	}
}
