package domain

import "time"

// PredictionResult is the enriched, append-only record written for each
// successfully processed observation.
type PredictionResult struct {
	ObservationID int64
	Site          string
	Station       string
	Date          time.Time
	Name          string

	Temp  float64
	Dewp  float64
	Stp   float64
	Visib float64
	Wdsp  float64
	Mxspd float64
	Max   float64
	Min   float64
	Prcp  float64
	Month int

	AQI       float64
	Level     Tier
	HintImage string // base64-encoded image payload
	CreatedAt time.Time
}

// NewPredictionResult copies the observation's identity and measurements and
// attaches the prediction.
func NewPredictionResult(obs Observation, aqi float64, level Tier, hint HintImage) PredictionResult {
	return PredictionResult{
		ObservationID: obs.ID,
		Site:          obs.Site,
		Station:       obs.Station,
		Date:          obs.Date,
		Name:          obs.Name,
		Temp:          obs.Temp,
		Dewp:          obs.Dewp,
		Stp:           obs.Stp,
		Visib:         obs.Visib,
		Wdsp:          obs.Wdsp,
		Mxspd:         obs.Mxspd,
		Max:           obs.Max,
		Min:           obs.Min,
		Prcp:          obs.Prcp,
		Month:         obs.Month,
		AQI:           aqi,
		Level:         level,
		HintImage:     hint.Payload,
		CreatedAt:     clock.Now().UTC(),
	}
}

// PredictionEvent is the image-free summary published after a result commits.
type PredictionEvent struct {
	ObservationID int64     `json:"observation_id"`
	Site          string    `json:"site"`
	Station       string    `json:"station"`
	Name          string    `json:"name,omitempty"`
	Date          string    `json:"date"`
	AQI           float64   `json:"aqi"`
	Level         int       `json:"aqi_level"`
	Category      string    `json:"category"`
	Advice        string    `json:"advice"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Event summarises the result for downstream consumers.
func (r PredictionResult) Event() PredictionEvent {
	return PredictionEvent{
		ObservationID: r.ObservationID,
		Site:          r.Site,
		Station:       r.Station,
		Name:          r.Name,
		Date:          r.Date.Format(time.DateOnly),
		AQI:           r.AQI,
		Level:         int(r.Level),
		Category:      r.Level.Label(),
		Advice:        r.Level.Advice(),
		ProcessedAt:   r.CreatedAt,
	}
}
