package domain

import (
	"fmt"
	"math"
	"time"
)

// Temperature bounds in Celsius for any surface measurement.
const (
	tempMinC = -50.0
	tempMaxC = 60.0
)

// weatherDateLayouts are the date shapes accepted from weather sources.
var weatherDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"20060102",
}

// Cleaner normalizes raw records into canonical units, accumulating a log of
// recoverable validation issues instead of aborting. Only unrecoverable
// conditions (invalid coordinates) surface as errors.
//
// A Cleaner is not safe for concurrent use; each batch gets its own.
type Cleaner struct {
	issues []string
}

// NewCleaner returns a Cleaner with an empty issue log.
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// ValidationReport summarizes the non-fatal issues seen since the last Reset.
type ValidationReport struct {
	ErrorCount int
	Errors     []string // first 10 only
	Timestamp  time.Time
}

// Report returns the accumulated validation issues.
func (c *Cleaner) Report() ValidationReport {
	errs := c.issues
	if len(errs) > 10 {
		errs = errs[:10]
	}
	return ValidationReport{
		ErrorCount: len(c.issues),
		Errors:     errs,
		Timestamp:  clock.Now(),
	}
}

// Reset clears the issue log.
func (c *Cleaner) Reset() {
	c.issues = nil
}

func (c *Cleaner) note(format string, args ...any) {
	c.issues = append(c.issues, fmt.Sprintf(format, args...))
}

// CleanSoil validates and normalizes a raw soil sample. Invalid coordinates
// are unrecoverable and return a *ValidationError; every other problem nulls
// the offending field and is logged as a non-fatal issue.
func (c *Cleaner) CleanSoil(raw RawSoil) (CleanedSoil, error) {
	if err := ValidateCoordinates(raw.Latitude, raw.Longitude); err != nil {
		return CleanedSoil{}, err
	}

	out := CleanedSoil{
		Latitude:   roundTo(raw.Latitude, 6),
		Longitude:  roundTo(raw.Longitude, 6),
		Source:     raw.Source,
		SourceTime: raw.SourceTime,
	}

	out.Clay = c.cleanPercentageField("clay_content", raw.Clay)
	out.Sand = c.cleanPercentageField("sand_content", raw.Sand)
	out.Silt = c.cleanPercentageField("silt_content", raw.Silt)

	out.PH = CleanPH(raw.PH)
	if raw.PH != nil && out.PH == nil {
		c.note("ph_level %v outside plausible domain, nulled", *raw.PH)
	}

	out.OrganicCarbon = cleanNumeric(raw.OrganicCarbon)
	out.BulkDensity = cleanNumeric(raw.BulkDensity)
	out.WaterCapacity = cleanNumeric(raw.WaterCapacity)

	if isKnownTexture(raw.Texture) {
		out.Texture = raw.Texture
	} else {
		out.Texture = InferTexture(out.Clay, out.Sand, out.Silt)
	}

	return out, nil
}

func (c *Cleaner) cleanPercentageField(field string, v *float64) *float64 {
	cleaned := CleanPercentage(v)
	if v != nil && cleaned == nil {
		c.note("%s %v outside [0, 100], nulled", field, *v)
	}
	return cleaned
}

// CleanWeather normalizes a raw weather day. Cleaning never fails: bad fields
// are nulled and logged, and an unparseable date leaves Date empty for the
// transformer to reject loudly.
func (c *Cleaner) CleanWeather(raw RawWeather) CleanedWeather {
	out := CleanedWeather{
		Latitude:    raw.Latitude,
		Longitude:   raw.Longitude,
		WeatherCode: raw.WeatherCode,
	}

	if raw.Date != "" {
		if d, ok := parseWeatherDate(raw.Date); ok {
			out.Date = d
		} else {
			c.note("invalid weather date %q", raw.Date)
		}
	}

	out.TempMax = c.cleanTemperatureField("temp_max", raw.TempMax)
	out.TempMin = c.cleanTemperatureField("temp_min", raw.TempMin)
	out.TempMean = c.cleanTemperatureField("temp_mean", raw.TempMean)

	// Inverted pairs are swapped, never dropped.
	if out.TempMax != nil && out.TempMin != nil && *out.TempMax < *out.TempMin {
		out.TempMax, out.TempMin = out.TempMin, out.TempMax
	}

	out.Precipitation = clampNonNegative(cleanNumeric(raw.Precipitation))
	out.Evapotranspiration = cleanNumeric(raw.Evapotranspiration)
	out.SolarRadiation = clampNonNegative(cleanNumeric(raw.SolarRadiation))
	out.Humidity = clamp(cleanNumeric(raw.Humidity), 0, 100)
	out.WindSpeed = clampNonNegative(cleanNumeric(raw.WindSpeed))

	return out
}

func (c *Cleaner) cleanTemperatureField(field string, v *float64) *float64 {
	cleaned := CleanTemperature(v)
	if v != nil && cleaned == nil {
		c.note("%s %v outside [-50, 60] C, nulled", field, *v)
	}
	return cleaned
}

// CleanCrop validates an extracted crop requirement profile. Range fields are
// reordered so min <= max; implausible temperature pairs are nulled as a pair
// rather than half-kept.
func (c *Cleaner) CleanCrop(ex CropExtraction) CleanedCrop {
	out := CleanedCrop{
		CropName:   CanonicalCropName(ex.CropName),
		Confidence: clampValue(ex.Confidence, 0, 1),
		Evidence:   ex.Evidence,
	}

	tmin, tmax := ex.TempMinC, ex.TempMaxC
	if tmin != nil && tmax != nil {
		if *tmin > *tmax {
			tmin, tmax = tmax, tmin
		}
		if inRange(*tmin, tempMinC, tempMaxC) && inRange(*tmax, tempMinC, tempMaxC) {
			out.TempMinC = ptr(roundTo(*tmin, 1))
			out.TempMaxC = ptr(roundTo(*tmax, 1))
		} else {
			c.note("crop %s temperature range %v-%v C implausible, nulled", out.CropName, *tmin, *tmax)
		}
	} else {
		out.TempMinC = tmin
		out.TempMaxC = tmax
	}

	out.WaterMMPerDay = NormalizeWater(ex.WaterMMPerDay)
	if ex.WaterMMPerDay != nil && out.WaterMMPerDay == nil {
		c.note("crop %s water requirement %v unrecognized, nulled", out.CropName, *ex.WaterMMPerDay)
	}

	out.SunlightHours = clamp(ex.SunlightHours, 0, 24)

	pmin, pmax := ex.PHMin, ex.PHMax
	if pmin != nil && pmax != nil && *pmin > *pmax {
		pmin, pmax = pmax, pmin
	}
	out.PHMin = clamp(pmin, 0, 14)
	out.PHMax = clamp(pmax, 0, 14)

	return out
}

// CleanPercentage canonicalizes a percentage field: values in [0, 1] are
// treated as fractions and scaled by 100, values in [0, 100] pass through,
// anything else is nulled.
func CleanPercentage(v *float64) *float64 {
	if v == nil {
		return nil
	}
	switch {
	case *v >= 0 && *v <= 1:
		return ptr(roundTo(*v*100, 2))
	case *v >= 0 && *v <= 100:
		return ptr(roundTo(*v, 2))
	default:
		return nil
	}
}

// CleanPH canonicalizes a pH reading. Values in [0, 14] pass through; values
// in (14, 140] are assumed to carry the SoilGrids x10 scaling and are divided
// by 10; anything else is nulled.
func CleanPH(v *float64) *float64 {
	if v == nil {
		return nil
	}
	switch {
	case *v >= 0 && *v <= 14:
		return ptr(roundTo(*v, 2))
	case *v > 14 && *v <= 140:
		return ptr(roundTo(*v/10, 2))
	default:
		return nil
	}
}

// CleanTemperature canonicalizes a temperature to Celsius. Magnitudes above
// 60 are assumed Fahrenheit and converted before range-checking against
// [-50, 60]; out-of-range values are nulled.
func CleanTemperature(v *float64) *float64 {
	if v == nil {
		return nil
	}
	val := *v
	if math.Abs(val) > 60 {
		val = (val - 32) * 5 / 9
	}
	if !inRange(val, tempMinC, tempMaxC) {
		return nil
	}
	return ptr(roundTo(val, 1))
}

// NormalizeWater converts a water demand figure to mm/day. Band order
// matters: mm/day passthrough is checked first, so an ambiguous 40 stays
// 40 mm/day rather than being read as a weekly total.
func NormalizeWater(v *float64) *float64 {
	if v == nil {
		return nil
	}
	switch {
	case *v >= 1 && *v <= 40: // already mm/day
		return ptr(roundTo(*v, 2))
	case *v >= 0.01 && *v < 1: // cm/day
		return ptr(roundTo(*v*10, 2))
	case *v > 40 && *v <= 350: // weekly total
		return ptr(roundTo(*v/7, 2))
	default:
		return nil
	}
}

func parseWeatherDate(s string) (string, bool) {
	for _, layout := range weatherDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// cleanNumeric nulls NaN and infinite values and rounds to three decimals.
func cleanNumeric(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return ptr(roundTo(*v, 3))
}

func clampNonNegative(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if *v < 0 {
		return ptr(0.0)
	}
	return v
}

func clamp(v *float64, lo, hi float64) *float64 {
	if v == nil {
		return nil
	}
	return ptr(clampValue(*v, lo, hi))
}

func clampValue(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func ptr(v float64) *float64 {
	return &v
}
