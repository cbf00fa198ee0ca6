// Package domain models agro-climatic measurements on their way into the
// warehouse: soil composition samples, daily weather observations, and crop
// requirement profiles recovered from free text.
//
// # Data Sources
//
// Soil composition comes from the ISRIC SoilGrids API (0-5cm depth layer).
// SoilGrids encodes several properties with a fixed scale factor; the two
// that matter here are pH (stored as pH x 10, so 65 means 6.5) and soil
// organic carbon (stored in dg/kg, divided by 10 on ingest). Percentage
// fields occasionally arrive as 0-1 fractions instead of 0-100 and are
// rescaled during cleaning.
//
// Daily weather comes from the Open-Meteo archive API: a temperature triple
// (max/min/mean), precipitation, FAO reference evapotranspiration, shortwave
// radiation, relative humidity, wind speed, and a WMO weather code. Some
// upstream mirrors report temperatures in Fahrenheit without saying so; any
// magnitude above 60 is assumed Fahrenheit and converted, since 60 degrees C
// is far outside survivable surface weather but a mild Fahrenheit day.
//
// Crop requirements are scraped from agronomy references (FAO crop profiles
// and similar) as noisy prose and recovered by the extractor package. Water
// demand in those texts appears as mm/day, cm/day, or weekly totals; see
// [NormalizeWater] for the band rules that reconcile them.
//
// # Texture Classification
//
// When a source does not supply a USDA texture class, it is inferred from the
// clay/sand/silt shares via a simplified USDA texture triangle. Shares are
// renormalized to sum to 100 first, so the thresholds hold even when the raw
// percentages do not quite add up.
//
// # Location Identity
//
// A location's identity is the MD5 hex digest of "lat,lon" formatted to six
// decimal places (roughly 11cm of precision). The hash is content-derived so
// re-running a batch resolves to the same dimension row instead of inserting
// a duplicate. See [LocationHash].
package domain
