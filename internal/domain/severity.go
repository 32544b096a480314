package domain

import "fmt"

// Tier is an AQI severity class in 1..6.
type Tier int

const (
	TierGood Tier = iota + 1
	TierModerate
	TierSensitive
	TierUnhealthy
	TierVeryUnhealthy
	TierHazardous
)

// Tiers lists every tier in ascending severity.
var Tiers = []Tier{TierGood, TierModerate, TierSensitive, TierUnhealthy, TierVeryUnhealthy, TierHazardous}

// tierUpperBounds holds the inclusive upper AQI bound of tiers 1–5.
// Anything above the last bound is hazardous.
var tierUpperBounds = [...]float64{50, 100, 150, 200, 300}

// Classify maps an AQI value onto the first tier whose upper bound is not
// exceeded. Negative values land in tier 1; values above 300 (and NaN) land in tier 6.
func Classify(aqi float64) Tier {
	for i, bound := range tierUpperBounds {
		if aqi <= bound {
			return Tier(i + 1)
		}
	}
	return TierHazardous
}

// Valid reports whether t is one of the six defined tiers.
func (t Tier) Valid() bool {
	return t >= TierGood && t <= TierHazardous
}

func (t Tier) String() string {
	return fmt.Sprintf("%d (%s)", int(t), t.Label())
}

// Label returns the EPA category name.
func (t Tier) Label() string {
	if !t.Valid() {
		return "unknown"
	}
	return tierLabels[t-1]
}

// Advice returns the health advisory shown alongside the tier.
func (t Tier) Advice() string {
	if !t.Valid() {
		return ""
	}
	return tierAdvice[t-1]
}

// Scene returns the image-generation scene description for the tier.
func (t Tier) Scene() string {
	if !t.Valid() {
		return ""
	}
	return tierScenes[t-1]
}

var tierLabels = [...]string{
	"good",
	"moderate",
	"unhealthy for sensitive groups",
	"unhealthy",
	"very unhealthy",
	"hazardous",
}

var tierAdvice = [...]string{
	"Air quality is excellent. Perfect day for outdoor activities. Enjoy the fresh air and sunshine. Stay active and healthy.",
	"Air quality is acceptable. Most people can enjoy outdoor activities. Sensitive individuals should consider limiting prolonged outdoor exertion.",
	"Sensitive groups should reduce outdoor activities. Consider wearing masks. General public should monitor their health when outdoors.",
	"Everyone should reduce outdoor activities. Wear masks when going outside. Sensitive groups should stay indoors as much as possible.",
	"Health alert! Everyone should avoid outdoor activities. Stay indoors with windows closed. Use air purifiers if available.",
	"Emergency conditions! Stay indoors with windows closed. Use air purifiers. Only go outside if absolutely necessary with proper protection.",
}

var tierScenes = [...]string{
	"A beautiful cityscape with clear blue sky, people enjoying outdoor activities, green parks and trees, modern buildings, bright sunlight, high quality, detailed, reflecting urban life and environmental harmony",
	"A city view with slightly hazy sky, people going about their daily activities, some wearing light masks, urban landscape with moderate air quality, buildings visible but with slight haze, high quality, detailed",
	"An urban scene with orange-tinted sky, sensitive groups wearing masks, reduced outdoor activities, city landmarks visible but with noticeable haze, people being cautious, high quality, detailed",
	"A city under red-tinted sky, most people wearing masks, limited outdoor activities, prominent city buildings with heavy haze, emergency alerts visible, high quality, detailed",
	"A cityscape with purple-tinted sky, empty streets, emergency vehicles visible, severe air pollution, city landmarks barely visible through thick haze, high quality, detailed",
	"A city in emergency conditions with maroon sky, deserted streets, emergency services active, extremely poor visibility, city almost invisible through dense pollution, high quality, detailed",
}
