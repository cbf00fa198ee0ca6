package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/observability"
	"github.com/fieldsift/agroclimate-etl/internal/pipeline"
	"github.com/fieldsift/agroclimate-etl/internal/textnorm"
	"github.com/fieldsift/agroclimate-etl/internal/warehouse"
)

func ptr(v float64) *float64 { return &v }

type fakeSoil struct {
	fn    func(lat, lon float64) (domain.RawSoil, error)
	calls int
}

func (f *fakeSoil) FetchSoil(_ context.Context, lat, lon float64) (domain.RawSoil, error) {
	f.calls++
	return f.fn(lat, lon)
}

type fakeWeather struct {
	fn    func(lat, lon float64, start, end string) ([]domain.RawWeather, error)
	calls int
}

func (f *fakeWeather) FetchWeather(_ context.Context, lat, lon float64, start, end string) ([]domain.RawWeather, error) {
	f.calls++
	return f.fn(lat, lon, start, end)
}

type fakeCropSource struct {
	sources []domain.TextSource
	err     error
	calls   int
}

func (f *fakeCropSource) FetchAll(_ context.Context, _ []string) ([]domain.TextSource, error) {
	f.calls++
	return f.sources, f.err
}

type fakeExtractor struct {
	results []domain.CropExtraction
	got     []domain.TextSource
}

func (f *fakeExtractor) BatchExtract(sources []domain.TextSource) []domain.CropExtraction {
	f.got = sources
	return f.results
}

func goodSoil(lat, lon float64) (domain.RawSoil, error) {
	return domain.RawSoil{
		Latitude:  lat,
		Longitude: lon,
		Clay:      ptr(22.1),
		Sand:      ptr(41.0),
		Silt:      ptr(36.9),
		PH:        ptr(6.5),
		Source:    "soilgrids",
	}, nil
}

func goodWeather(lat, lon float64, start, end string) ([]domain.RawWeather, error) {
	return []domain.RawWeather{
		{Latitude: lat, Longitude: lon, Date: "2026-03-12", TempMax: ptr(21), TempMin: ptr(9)},
		{Latitude: lat, Longitude: lon, Date: "2026-03-13", TempMax: ptr(23), TempMin: ptr(11)},
	}, nil
}

type harness struct {
	pipeline *pipeline.Pipeline
	store    *warehouse.Store
	db       *sql.DB
	soil     *fakeSoil
	weather  *fakeWeather
	crops    *fakeCropSource
}

func setup(t *testing.T) *harness {
	t.Helper()

	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := warehouse.New(db, warehouse.DialectSQLite, logger, 100)
	require.NoError(t, store.Migrate(context.Background()))

	h := &harness{
		store:   store,
		db:      db,
		soil:    &fakeSoil{fn: goodSoil},
		weather: &fakeWeather{fn: goodWeather},
		crops: &fakeCropSource{sources: []domain.TextSource{
			{CropName: "Wheat", RawText: "Optimal temp. 15-25 deg c.", Reliability: 0.95},
		}},
	}
	h.pipeline = pipeline.New(h.soil, h.weather, h.crops, textnorm.New(),
		&fakeExtractor{results: []domain.CropExtraction{{
			CropName:   "Wheat",
			TempMinC:   ptr(15),
			TempMaxC:   ptr(25),
			Confidence: 0.35,
		}}},
		store, logger, observability.NewMetricsForTesting())
	return h
}

func requireAudit(t *testing.T, store *warehouse.Store, batchID string, status domain.BatchStatus) *warehouse.AuditEntry {
	t.Helper()
	entry, err := store.GetAudit(context.Background(), batchID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, status, entry.Status)
	assert.True(t, entry.CompletedAt.Valid)
	return entry
}

func TestNewBatchID(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 30, 15, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	id := pipeline.NewBatchID("soil")
	assert.Regexp(t, regexp.MustCompile(`^soil_20260314_093015_[0-9a-f]{8}$`), id)
}

func TestRunSoil(t *testing.T) {
	h := setup(t)
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}, {Lat: 51.5, Lon: -0.1}}

	batchID, err := h.pipeline.RunSoil(context.Background(), coords)
	require.NoError(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchSuccess)
	assert.Equal(t, "soil", entry.PipelineName)
	assert.Equal(t, 2, entry.RecordsExtracted)
	assert.Equal(t, 2, entry.RecordsLoaded)
	assert.Equal(t, 2, h.soil.calls)
}

func TestRunSoil_FetchFailureSkipsCoordinate(t *testing.T) {
	h := setup(t)
	h.soil.fn = func(lat, lon float64) (domain.RawSoil, error) {
		if lat > 50 {
			return domain.RawSoil{}, errors.New("upstream timeout")
		}
		return goodSoil(lat, lon)
	}
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}, {Lat: 51.5, Lon: -0.1}}

	batchID, err := h.pipeline.RunSoil(context.Background(), coords)
	require.NoError(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchSuccess)
	assert.Equal(t, 1, entry.RecordsExtracted)
	assert.Equal(t, 1, entry.RecordsLoaded)
}

func TestRunSoil_InvalidCoordinateFailsBatch(t *testing.T) {
	h := setup(t)
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}, {Lat: 91.0, Lon: 0}}

	batchID, err := h.pipeline.RunSoil(context.Background(), coords)
	require.Error(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchFailed)
	assert.Equal(t, 0, entry.RecordsExtracted)
	require.True(t, entry.ErrorMessage.Valid)
	assert.Contains(t, entry.ErrorMessage.String, "latitude")
	// Nothing was fetched for a batch that failed validation upfront.
	assert.Equal(t, 0, h.soil.calls)
}

func TestRunWeather(t *testing.T) {
	h := setup(t)
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}}

	batchID, err := h.pipeline.RunWeather(context.Background(), coords, "2026-03-12", "2026-03-13")
	require.NoError(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchSuccess)
	assert.Equal(t, "weather", entry.PipelineName)
	assert.Equal(t, 2, entry.RecordsExtracted)
	assert.Equal(t, 2, entry.RecordsLoaded)
}

func TestRunWeather_BadRangeFailsBeforeFetch(t *testing.T) {
	h := setup(t)
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}}

	batchID, err := h.pipeline.RunWeather(context.Background(), coords, "12/03/2026", "2026-03-13")
	require.Error(t, err)
	assert.ErrorContains(t, err, "start date")
	assert.Equal(t, 0, h.weather.calls)

	requireAudit(t, h.store, batchID, domain.BatchFailed)
}

func TestRunWeather_UnparseableDayFailsBatch(t *testing.T) {
	h := setup(t)
	h.weather.fn = func(lat, lon float64, _, _ string) ([]domain.RawWeather, error) {
		return []domain.RawWeather{
			{Latitude: lat, Longitude: lon, Date: "not-a-date", TempMax: ptr(21)},
		}, nil
	}
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}}

	batchID, err := h.pipeline.RunWeather(context.Background(), coords, "2026-03-12", "2026-03-13")
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	entry := requireAudit(t, h.store, batchID, domain.BatchFailed)
	assert.Equal(t, 1, entry.RecordsExtracted)
	assert.Equal(t, 0, entry.RecordsLoaded)
}

func TestRunWeather_FetchFailureSkipsCoordinate(t *testing.T) {
	h := setup(t)
	h.weather.fn = func(lat, lon float64, start, end string) ([]domain.RawWeather, error) {
		if lon < -100 {
			return nil, errors.New("gateway error")
		}
		return goodWeather(lat, lon, start, end)
	}
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}, {Lat: 51.5, Lon: -0.1}}

	batchID, err := h.pipeline.RunWeather(context.Background(), coords, "2026-03-12", "2026-03-13")
	require.NoError(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchSuccess)
	assert.Equal(t, 2, entry.RecordsExtracted)
	assert.Equal(t, 2, entry.RecordsLoaded)
}

func TestRunWeather_BulkLoadFailureStillSucceeds(t *testing.T) {
	h := setup(t)
	_, err := h.db.Exec(`DROP TABLE fact_weather`)
	require.NoError(t, err)
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}}

	// A failed bulk write reports zero rows loaded; the batch itself is not
	// aborted by it.
	batchID, err := h.pipeline.RunWeather(context.Background(), coords, "2026-03-12", "2026-03-13")
	require.NoError(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchSuccess)
	assert.Equal(t, 2, entry.RecordsExtracted)
	assert.Equal(t, 0, entry.RecordsLoaded)
}

func TestRunCrop(t *testing.T) {
	h := setup(t)

	batchID, err := h.pipeline.RunCrop(context.Background(), []string{"wheat"})
	require.NoError(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchSuccess)
	assert.Equal(t, "crop", entry.PipelineName)
	assert.Equal(t, 1, entry.RecordsExtracted)
	assert.Equal(t, 1, entry.RecordsLoaded)
}

func TestRunCrop_NormalizesBeforeExtraction(t *testing.T) {
	h := setup(t)
	ext := &fakeExtractor{}
	h.pipeline = pipeline.New(h.soil, h.weather, h.crops, textnorm.New(), ext,
		h.store, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())

	_, err := h.pipeline.RunCrop(context.Background(), []string{"wheat"})
	require.NoError(t, err)

	require.Len(t, ext.got, 1)
	assert.Contains(t, ext.got[0].RawText, "temperature")
	assert.NotContains(t, ext.got[0].RawText, "temp.")
}

func TestRunCrop_SourceFailureFailsBatch(t *testing.T) {
	h := setup(t)
	h.crops.err = errors.New("all sources down")

	batchID, err := h.pipeline.RunCrop(context.Background(), []string{"wheat"})
	require.Error(t, err)

	entry := requireAudit(t, h.store, batchID, domain.BatchFailed)
	require.True(t, entry.ErrorMessage.Valid)
	assert.Contains(t, entry.ErrorMessage.String, "all sources down")
}

func TestRunFull(t *testing.T) {
	h := setup(t)
	h.soil.fn = func(float64, float64) (domain.RawSoil, error) {
		return domain.RawSoil{}, errors.New("soil api down")
	}
	coords := []domain.Coordinate{{Lat: 45.5, Lon: -122.6}}

	// Every soil fetch fails but the soil batch itself still completes with
	// zero records, so the run continues through all three phases.
	err := h.pipeline.RunFull(context.Background(), coords, "2026-03-12", "2026-03-13", []string{"wheat"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.soil.calls)
	assert.Equal(t, 1, h.weather.calls)
	assert.Equal(t, 1, h.crops.calls)
}

func TestRunFull_StopsAtFirstFailedPhase(t *testing.T) {
	h := setup(t)
	coords := []domain.Coordinate{{Lat: 91.0, Lon: 0}}

	err := h.pipeline.RunFull(context.Background(), coords, "2026-03-12", "2026-03-13", []string{"wheat"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "latitude")
	// The soil batch failed validation, so neither later phase runs.
	assert.Equal(t, 0, h.weather.calls)
	assert.Equal(t, 0, h.crops.calls)
}

func TestCheckReadiness(t *testing.T) {
	h := setup(t)

	assert.Error(t, h.pipeline.CheckReadiness(context.Background()))

	_, err := h.pipeline.RunCrop(context.Background(), []string{"wheat"})
	require.NoError(t, err)
	assert.NoError(t, h.pipeline.CheckReadiness(context.Background()))
}
