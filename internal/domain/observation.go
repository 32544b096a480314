package domain

import (
	"fmt"
	"math"
	"time"
)

// FeatureColumns lists the model's input columns in tensor order. The row
// identifier and the handled flag are never features.
var FeatureColumns = []string{
	"temp", "dewp", "stp", "visib", "wdsp", "mxspd", "max", "min", "prcp", "month",
}

// FeatureCount is the width of one feature row.
const FeatureCount = 10

// Observation is one unprocessed GSOD row awaiting scoring.
type Observation struct {
	ID      int64
	Site    string
	Station string
	Date    time.Time
	Name    string

	Temp  float64 // mean temperature, °F
	Dewp  float64 // mean dew point, °F
	Stp   float64 // station pressure, mbar
	Visib float64 // visibility, miles
	Wdsp  float64 // mean wind speed, knots
	Mxspd float64 // max sustained wind speed, knots
	Max   float64 // max temperature, °F
	Min   float64 // min temperature, °F
	Prcp  float64 // precipitation, inches
	Month int

	// Handled is nil when the upstream collaborator never set the flag.
	Handled *bool
}

// IsHandled reports whether the observation was already consumed.
func (o Observation) IsHandled() bool {
	return o.Handled != nil && *o.Handled
}

// Features returns the observation's feature row in FeatureColumns order.
func (o Observation) Features() []float32 {
	return []float32{
		float32(o.Temp),
		float32(o.Dewp),
		float32(o.Stp),
		float32(o.Visib),
		float32(o.Wdsp),
		float32(o.Mxspd),
		float32(o.Max),
		float32(o.Min),
		float32(o.Prcp),
		float32(o.Month),
	}
}

// Validate rejects observations the model cannot score.
func (o Observation) Validate() error {
	if o.ID <= 0 {
		return fmt.Errorf("invalid observation id %d", o.ID)
	}
	if o.Site == "" {
		return fmt.Errorf("observation %d: missing site", o.ID)
	}
	if o.Month < 1 || o.Month > 12 {
		return fmt.Errorf("observation %d: month %d out of range", o.ID, o.Month)
	}
	for i, v := range o.Features()[:FeatureCount-1] {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("observation %d: %s is not a finite number", o.ID, FeatureColumns[i])
		}
	}
	return nil
}

// MonthOf derives the MONTH feature from an observation date.
func MonthOf(date time.Time) int {
	return int(date.Month())
}
