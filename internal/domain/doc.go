// Package domain models daily meteorological observations and the air-quality
// predictions derived from them.
//
// # Data Source
//
// Observations originate from the NOAA Global Surface Summary of the Day
// (GSOD) dataset. The upstream ingestion collaborator loads one row per
// station per day into the gsod_data table and leaves the handled flag unset.
// The prediction pipeline is the only writer of that flag.
//
// # GSOD Conventions
//
// Numeric fields use the GSOD units unchanged:
//
//	TEMP, DEWP, MAX, MIN  degrees Fahrenheit
//	STP                   station pressure in millibars
//	VISIB                 visibility in miles
//	WDSP, MXSPD           mean and maximum sustained wind speed in knots
//	PRCP                  precipitation in inches
//
// MONTH is derived from DATE at ingestion time and is part of the model's
// feature vector. SITE is the short site code used for grouping results by
// city; STATION is the USAF-WBAN station identifier; NAME is free text.
//
// Missing values are stored as NULL. They scan to NaN and the observation
// fails [Observation.Validate], which turns it into a row-level failure
// instead of feeding NaN to the model.
//
// # Severity Tiers
//
// Predicted AQI values map onto the six US EPA categories:
//
//	1  Good                             0 – 50
//	2  Moderate                        51 – 100
//	3  Unhealthy for Sensitive Groups 101 – 150
//	4  Unhealthy                      151 – 200
//	5  Very Unhealthy                 201 – 300
//	6  Hazardous                          > 300
//
// Boundaries are inclusive upper bounds on the raw float, so 50.4 is tier 2.
// Each tier carries a static advisory text and an image scene description;
// see [Tier.Advice] and [Tier.Scene].
package domain
