package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func TestLocation(t *testing.T) {
	row := Location(45.5, -122.6)

	assert.Equal(t, 45.5, row.Latitude)
	assert.Equal(t, -122.6, row.Longitude)
	assert.Equal(t, domain.LocationHash(45.5, -122.6), row.LocationHash)
	assert.Len(t, row.LocationHash, 32)
	assert.Nil(t, row.CountryCode)
}

func TestSoil(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	cs := domain.CleanedSoil{
		Latitude:   45.5,
		Longitude:  -122.6,
		Texture:    "Loam",
		Clay:       ptr(20),
		Sand:       ptr(40),
		Silt:       ptr(40),
		PH:         ptr(6.5),
		Source:     "soilgrids",
		SourceTime: "2026-03-13T22:00:00Z",
	}
	row := Soil(cs, 7)

	assert.Equal(t, int64(7), row.LocationKey)
	assert.Equal(t, "Loam", row.SoilTexture)
	assert.Equal(t, 5, row.SoilDepthCM)
	assert.Equal(t, "2026-03-14", row.ExtractionDate)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Metadata), &meta))
	assert.Equal(t, "soilgrids", meta["source"])
	assert.Equal(t, "2026-03-13T22:00:00Z", meta["timestamp"])
	coords := meta["coordinates"].(map[string]any)
	assert.Equal(t, 45.5, coords["lat"])
	assert.Equal(t, -122.6, coords["lon"])
}

func TestWeather(t *testing.T) {
	t.Run("date key derived", func(t *testing.T) {
		cw := domain.CleanedWeather{
			Latitude:  10.0,
			Longitude: 20.0,
			Date:      "2026-03-14",
			TempMax:   ptr(25),
			TempMin:   ptr(15),
		}
		row, err := Weather(cw, 3)
		require.NoError(t, err)
		assert.Equal(t, 20260314, row.DateKey)
		assert.Equal(t, int64(3), row.LocationKey)
		assert.Equal(t, 25.0, *row.TempMax)
	})

	t.Run("malformed date fails loudly", func(t *testing.T) {
		cw := domain.CleanedWeather{Date: "14/03/2026"}
		_, err := Weather(cw, 3)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "date", verr.Field)
	})

	t.Run("empty date fails loudly", func(t *testing.T) {
		_, err := Weather(domain.CleanedWeather{}, 3)
		require.Error(t, err)
	})
}

func TestDateKey(t *testing.T) {
	key, err := DateKey("1999-12-31")
	require.NoError(t, err)
	assert.Equal(t, 19991231, key)

	_, err = DateKey("2026-13-01")
	assert.Error(t, err)
}

func TestCrop(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	cc := domain.CleanedCrop{
		CropName:      "Wheat",
		TempMinC:      ptr(15),
		TempMaxC:      ptr(25),
		WaterMMPerDay: ptr(6),
		SunlightHours: ptr(8),
		PHMin:         ptr(6.0),
		PHMax:         ptr(7.0),
		Confidence:    0.85,
		Evidence:      []string{"temperature of 15°C to 25°C"},
	}
	row := Crop(cc)

	assert.Equal(t, "Wheat", row.CropName)
	// The single sunlight signal populates both bounds.
	assert.Equal(t, 8.0, *row.SunlightMin)
	assert.Equal(t, 8.0, *row.SunlightMax)
	assert.Equal(t, 0.85, row.Confidence)
	assert.Equal(t, "2026-03-14", row.ExtractionDate)

	var evidence []string
	require.NoError(t, json.Unmarshal([]byte(row.SourceEvidence), &evidence))
	assert.Len(t, evidence, 1)
}

func TestCrop_NilSunlight(t *testing.T) {
	row := Crop(domain.CleanedCrop{CropName: "Rice"})
	assert.Nil(t, row.SunlightMin)
	assert.Nil(t, row.SunlightMax)

	var evidence []string
	assert.NoError(t, json.Unmarshal([]byte(row.SourceEvidence), &evidence))
	assert.Empty(t, evidence)
}
