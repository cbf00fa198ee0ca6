// Package transform maps cleaned domain objects to warehouse row shapes.
// All functions are pure: keys are content-derived, date keys are parsed
// strictly, and provenance is serialized into a metadata blob. No I/O.
package transform

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
)

// soilDepthCM is the sampled depth band; only the 0-5cm layer is ingested.
const soilDepthCM = 5

// LocationRow is the dim_location row shape.
type LocationRow struct {
	Latitude     float64
	Longitude    float64
	CountryCode  *string
	CountryName  *string
	AdminRegion  *string
	LocationHash string
}

// SoilRow is the dim_soil row shape, keyed by (location_key, extraction_date).
type SoilRow struct {
	LocationKey    int64
	SoilTexture    string
	Clay           *float64
	Sand           *float64
	Silt           *float64
	PH             *float64
	OrganicCarbon  *float64
	BulkDensity    *float64
	WaterCapacity  *float64
	SoilDepthCM    int
	ExtractionDate string
	Metadata       string
}

// WeatherRow is the fact_weather row shape, keyed by (date_key, location_key).
type WeatherRow struct {
	LocationKey        int64
	DateKey            int
	Latitude           float64
	Longitude          float64
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

// CropRow is the dim_crop row shape, keyed by crop_name.
type CropRow struct {
	CropName       string
	TempMinC       *float64
	TempMaxC       *float64
	WaterMMPerDay  *float64
	SunlightMin    *float64
	SunlightMax    *float64
	PHMin          *float64
	PHMax          *float64
	Confidence     float64
	ExtractionDate string
	SourceEvidence string
}

// soilMetadata is the provenance blob serialized into dim_soil.metadata.
type soilMetadata struct {
	Source      string `json:"source"`
	Timestamp   string `json:"timestamp"`
	Coordinates struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coordinates"`
}

// Location builds the dimension row for a coordinate, keyed by its content
// hash. Country and region enrichment would need reverse geocoding, which no
// collaborator supplies; those columns stay null.
func Location(lat, lon float64) LocationRow {
	return LocationRow{
		Latitude:     lat,
		Longitude:    lon,
		LocationHash: domain.LocationHash(lat, lon),
	}
}

// Soil maps a cleaned soil sample onto its row shape under the given
// location key, stamping today's extraction date and serializing provenance.
func Soil(cs domain.CleanedSoil, locationKey int64) SoilRow {
	meta := soilMetadata{
		Source:    cs.Source,
		Timestamp: cs.SourceTime,
	}
	meta.Coordinates.Lat = cs.Latitude
	meta.Coordinates.Lon = cs.Longitude
	blob, _ := json.Marshal(meta)

	return SoilRow{
		LocationKey:    locationKey,
		SoilTexture:    cs.Texture,
		Clay:           cs.Clay,
		Sand:           cs.Sand,
		Silt:           cs.Silt,
		PH:             cs.PH,
		OrganicCarbon:  cs.OrganicCarbon,
		BulkDensity:    cs.BulkDensity,
		WaterCapacity:  cs.WaterCapacity,
		SoilDepthCM:    soilDepthCM,
		ExtractionDate: domain.Today(),
		Metadata:       string(blob),
	}
}

// Weather maps a cleaned weather day onto its fact row shape. A malformed
// date is a data-integrity fault and fails loudly with a *ValidationError
// rather than producing a garbage date key.
func Weather(cw domain.CleanedWeather, locationKey int64) (WeatherRow, error) {
	dateKey, err := DateKey(cw.Date)
	if err != nil {
		return WeatherRow{}, err
	}
	return WeatherRow{
		LocationKey:        locationKey,
		DateKey:            dateKey,
		Latitude:           cw.Latitude,
		Longitude:          cw.Longitude,
		TempMax:            cw.TempMax,
		TempMin:            cw.TempMin,
		TempMean:           cw.TempMean,
		Precipitation:      cw.Precipitation,
		Evapotranspiration: cw.Evapotranspiration,
		SolarRadiation:     cw.SolarRadiation,
		Humidity:           cw.Humidity,
		WindSpeed:          cw.WindSpeed,
		WeatherCode:        cw.WeatherCode,
	}, nil
}

// DateKey derives the numeric YYYYMMDD key from a YYYY-MM-DD date string.
func DateKey(date string) (int, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return 0, &domain.ValidationError{Field: "date", Value: date, Reason: "not a YYYY-MM-DD date"}
	}
	key, err := strconv.Atoi(strings.ReplaceAll(date, "-", ""))
	if err != nil {
		return 0, &domain.ValidationError{Field: "date", Value: date, Reason: "not numeric after separator removal"}
	}
	return key, nil
}

// Crop maps a cleaned requirement profile onto the dimension row shape. The
// single sunlight-hours signal is duplicated into both min and max: no
// separate max-sunlight signal exists upstream.
func Crop(cc domain.CleanedCrop) CropRow {
	evidence, _ := json.Marshal(cc.Evidence)
	return CropRow{
		CropName:       cc.CropName,
		TempMinC:       cc.TempMinC,
		TempMaxC:       cc.TempMaxC,
		WaterMMPerDay:  cc.WaterMMPerDay,
		SunlightMin:    cc.SunlightHours,
		SunlightMax:    cc.SunlightHours,
		PHMin:          cc.PHMin,
		PHMax:          cc.PHMax,
		Confidence:     cc.Confidence,
		ExtractionDate: domain.Today(),
		SourceEvidence: string(evidence),
	}
}
