package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64
	Lon float64
}

// RawSoil is a soil composition sample as returned by the retrieval
// collaborator, before cleaning. Optional properties are nil when the source
// did not report them.
type RawSoil struct {
	Latitude      float64
	Longitude     float64
	Clay          *float64 // percent, 0-5cm
	Sand          *float64
	Silt          *float64
	PH            *float64
	OrganicCarbon *float64
	BulkDensity   *float64
	WaterCapacity *float64
	Texture       string // USDA class if the source supplies one, else empty
	Source        string
	SourceTime    string // source-reported extraction timestamp
}

// CleanedSoil is a validated soil sample in canonical units.
type CleanedSoil struct {
	Latitude      float64
	Longitude     float64
	Texture       string
	Clay          *float64
	Sand          *float64
	Silt          *float64
	PH            *float64
	OrganicCarbon *float64
	BulkDensity   *float64
	WaterCapacity *float64
	Source        string
	SourceTime    string
}

// RawWeather is one day of weather for a coordinate, before cleaning.
type RawWeather struct {
	Latitude           float64
	Longitude          float64
	Date               string // YYYY-MM-DD
	TempMax            *float64
	TempMin            *float64
	TempMean           *float64
	Precipitation      *float64
	Evapotranspiration *float64
	SolarRadiation     *float64
	Humidity           *float64
	WindSpeed          *float64
	WeatherCode        *int
}

// CleanedWeather is a validated weather day. After cleaning, TempMax >= TempMin
// whenever both are present; inverted pairs are swapped, never dropped.
type CleanedWeather struct {
	Latitude           float64
	Longitude          float64
	Date               string
	TempMax            *float64
	TempMin            *float64
	TempMean           *float64
	Precipitation      *float64
	Evapotranspiration *float64
	SolarRadiation     *float64
	Humidity           *float64
	WindSpeed          *float64
	WeatherCode        *int
}

// TextSource is a raw text blob with provenance, produced by the scraping
// collaborator and consumed by the requirement extractor.
type TextSource struct {
	CropName    string
	SourceURL   string
	RawText     string
	RetrievedAt string  // YYYY-MM-DD
	Reliability float64 // 0-1, assigned by the source registry
}

// CropExtraction is the result of pattern extraction over one text source.
// Nil fields mean the corresponding pattern family never matched; that is an
// expected outcome, not an error, and is reflected in Confidence.
type CropExtraction struct {
	CropName         string
	TempMinC         *float64
	TempMaxC         *float64
	WaterMMPerDay    *float64
	SunlightHours    *float64
	SunlightInferred bool // true when derived from a qualitative cue, not a number
	PHMin            *float64
	PHMax            *float64
	Confidence       float64
	Method           string
	Evidence         []string
}

// CleanedCrop is a validated crop requirement profile keyed by canonical name.
type CleanedCrop struct {
	CropName      string
	TempMinC      *float64
	TempMaxC      *float64
	WaterMMPerDay *float64
	SunlightHours *float64
	PHMin         *float64
	PHMax         *float64
	Confidence    float64
	Evidence      []string
}

// BatchStatus is the lifecycle state of an audit row. A batch is created
// RUNNING and mutated exactly once to a terminal status.
type BatchStatus string

const (
	BatchRunning BatchStatus = "RUNNING"
	BatchSuccess BatchStatus = "SUCCESS"
	BatchFailed  BatchStatus = "FAILED"
)

// ValidateCoordinates rejects coordinates outside the WGS-84 domain.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return &ValidationError{Field: "latitude", Value: lat, Reason: "out of range [-90, 90]"}
	}
	if lon < -180 || lon > 180 {
		return &ValidationError{Field: "longitude", Value: lon, Reason: "out of range [-180, 180]"}
	}
	return nil
}

// LocationHash produces the content-derived identity of a coordinate pair:
// the MD5 hex digest of "lat,lon" at six decimal places. Deterministic hashes
// make location dimension lookups idempotent across re-runs.
func LocationHash(lat, lon float64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%.6f,%.6f", lat, lon)))
	return hex.EncodeToString(sum[:])
}
