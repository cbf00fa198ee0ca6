// Package pipeline orchestrates the extract-transform-load runs. Each run is
// a finite batch: sources are fetched, records cleaned and transformed, rows
// loaded, and the outcome written to the audit log before the error (if any)
// is handed back to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/observability"
	"github.com/fieldsift/agroclimate-etl/internal/transform"
)

// SoilSource fetches one raw topsoil sample per coordinate.
type SoilSource interface {
	FetchSoil(ctx context.Context, lat, lon float64) (domain.RawSoil, error)
}

// WeatherSource fetches a daily weather history for one coordinate.
type WeatherSource interface {
	FetchWeather(ctx context.Context, lat, lon float64, startDate, endDate string) ([]domain.RawWeather, error)
}

// CropTextSource collects raw profile text per crop, skipping crops with no
// usable source.
type CropTextSource interface {
	FetchAll(ctx context.Context, cropNames []string) ([]domain.TextSource, error)
}

// Normalizer prepares scraped prose for pattern extraction.
type Normalizer interface {
	Normalize(text string, aggressive bool) string
}

// RequirementExtractor recovers quantitative requirements from normalized text.
type RequirementExtractor interface {
	BatchExtract(sources []domain.TextSource) []domain.CropExtraction
}

// Warehouse is the loader surface the pipeline drives.
type Warehouse interface {
	LoadLocations(ctx context.Context, rows []transform.LocationRow) (map[string]int64, error)
	LoadSoil(ctx context.Context, rows []transform.SoilRow) (int, error)
	LoadWeather(ctx context.Context, rows []transform.WeatherRow, batchID string) (int, error)
	LoadCropRequirements(ctx context.Context, rows []transform.CropRow) (int, error)
	InitAudit(ctx context.Context, batchID, pipelineName string) error
	AuditCompletion(ctx context.Context, batchID string, status domain.BatchStatus, extracted, loaded int, errMsg string) error
	FirstApplication(ctx context.Context, changeType, key string) (bool, error)
}

// Pipeline wires sources, cleaning, transformation, and the warehouse into
// runnable batches.
type Pipeline struct {
	soil      SoilSource
	weather   WeatherSource
	crops     CropTextSource
	norm      Normalizer
	extractor RequirementExtractor
	warehouse Warehouse
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline with the given collaborators and observability.
func New(soil SoilSource, weather WeatherSource, crops CropTextSource, norm Normalizer,
	extractor RequirementExtractor, wh Warehouse, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		soil:      soil,
		weather:   weather,
		crops:     crops,
		norm:      norm,
		extractor: extractor,
		warehouse: wh,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once at least one batch has completed
// successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no batch has completed yet")
	}
	return nil
}

// NewBatchID builds a traceable batch identifier:
// <name>_<YYYYMMDD_HHMMSS>_<8 hex chars>.
func NewBatchID(name string) string {
	return fmt.Sprintf("%s_%s_%s",
		name,
		domain.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}

// RunSoil fetches, cleans, and loads topsoil samples for the given
// coordinates. Any invalid coordinate fails the whole batch; individual fetch
// failures skip that coordinate. Returns the batch id for audit lookup.
func (p *Pipeline) RunSoil(ctx context.Context, coords []domain.Coordinate) (string, error) {
	return p.runAudited(ctx, "soil", func(ctx context.Context, batchID string, logger *slog.Logger) (int, int, error) {
		if err := validateAll(coords); err != nil {
			return 0, 0, err
		}

		cleaner := domain.NewCleaner()
		cleaned := make([]domain.CleanedSoil, 0, len(coords))
		for _, coord := range coords {
			raw, err := p.soil.FetchSoil(ctx, coord.Lat, coord.Lon)
			if err != nil {
				if ctx.Err() != nil {
					return len(cleaned), 0, ctx.Err()
				}
				logger.Warn("soil fetch failed, skipping coordinate",
					"lat", coord.Lat, "lon", coord.Lon, "error", err)
				continue
			}
			cs, err := cleaner.CleanSoil(raw)
			if err != nil {
				return len(cleaned), 0, err
			}
			cleaned = append(cleaned, cs)
		}
		p.observeValidation("soil", cleaner)

		locRows := make([]transform.LocationRow, 0, len(cleaned))
		for _, cs := range cleaned {
			locRows = append(locRows, transform.Location(cs.Latitude, cs.Longitude))
		}
		keys, err := p.warehouse.LoadLocations(ctx, locRows)
		if err != nil {
			return len(cleaned), 0, err
		}

		soilRows := make([]transform.SoilRow, 0, len(cleaned))
		for i, cs := range cleaned {
			key, ok := keys[locRows[i].LocationHash]
			if !ok {
				logger.Warn("no location key, skipping soil record",
					"lat", cs.Latitude, "lon", cs.Longitude)
				continue
			}
			if first, err := p.warehouse.FirstApplication(ctx, "soil_load", locRows[i].LocationHash); err == nil && !first {
				logger.Debug("re-applying soil for known location", "lat", cs.Latitude, "lon", cs.Longitude)
			}
			soilRows = append(soilRows, transform.Soil(cs, key))
		}

		loaded, err := p.warehouse.LoadSoil(ctx, soilRows)
		return len(cleaned), loaded, err
	})
}

// RunWeather fetches, cleans, and loads the daily weather history for the
// given coordinates over [startDate, endDate]. A coordinate whose fetch fails
// is skipped; a day whose date cannot produce a date key fails the batch.
func (p *Pipeline) RunWeather(ctx context.Context, coords []domain.Coordinate, startDate, endDate string) (string, error) {
	return p.runAudited(ctx, "weather", func(ctx context.Context, batchID string, logger *slog.Logger) (int, int, error) {
		if err := validateAll(coords); err != nil {
			return 0, 0, err
		}
		if _, err := transform.DateKey(startDate); err != nil {
			return 0, 0, fmt.Errorf("start date: %w", err)
		}
		if _, err := transform.DateKey(endDate); err != nil {
			return 0, 0, fmt.Errorf("end date: %w", err)
		}

		locRows := make([]transform.LocationRow, 0, len(coords))
		for _, coord := range coords {
			locRows = append(locRows, transform.Location(coord.Lat, coord.Lon))
		}
		keys, err := p.warehouse.LoadLocations(ctx, locRows)
		if err != nil {
			return 0, 0, err
		}

		cleaner := domain.NewCleaner()
		extracted := 0
		rows := make([]transform.WeatherRow, 0, len(coords))
		for i, coord := range coords {
			key, ok := keys[locRows[i].LocationHash]
			if !ok {
				logger.Warn("no location key, skipping coordinate",
					"lat", coord.Lat, "lon", coord.Lon)
				continue
			}

			days, err := p.weather.FetchWeather(ctx, coord.Lat, coord.Lon, startDate, endDate)
			if err != nil {
				if ctx.Err() != nil {
					return extracted, 0, ctx.Err()
				}
				logger.Warn("weather fetch failed, skipping coordinate",
					"lat", coord.Lat, "lon", coord.Lon, "error", err)
				continue
			}
			extracted += len(days)

			for _, day := range days {
				row, err := transform.Weather(cleaner.CleanWeather(day), key)
				if err != nil {
					return extracted, 0, fmt.Errorf("coordinate (%.4f, %.4f): %w", coord.Lat, coord.Lon, err)
				}
				rows = append(rows, row)
			}
		}
		p.observeValidation("weather", cleaner)

		loaded, err := p.warehouse.LoadWeather(ctx, rows, batchID)
		return extracted, loaded, err
	})
}

// RunCrop scrapes, normalizes, extracts, and loads requirement profiles for
// the given crops. Crops with no usable source are skipped, not failed.
func (p *Pipeline) RunCrop(ctx context.Context, cropNames []string) (string, error) {
	return p.runAudited(ctx, "crop", func(ctx context.Context, batchID string, logger *slog.Logger) (int, int, error) {
		sources, err := p.crops.FetchAll(ctx, cropNames)
		if err != nil {
			return 0, 0, err
		}

		for i := range sources {
			sources[i].RawText = p.norm.Normalize(sources[i].RawText, true)
		}
		extractions := p.extractor.BatchExtract(sources)

		cleaner := domain.NewCleaner()
		rows := make([]transform.CropRow, 0, len(extractions))
		for _, ex := range extractions {
			p.metrics.ExtractionConfidence.Observe(ex.Confidence)
			rows = append(rows, transform.Crop(cleaner.CleanCrop(ex)))
		}
		p.observeValidation("crop", cleaner)

		loaded, err := p.warehouse.LoadCropRequirements(ctx, rows)
		return len(sources), loaded, err
	})
}

// RunFull executes the soil, weather, and crop batches in sequence, each with
// its own batch id and audit row. The run stops at the first failing phase;
// callers wanting the remaining phases anyway invoke them individually.
func (p *Pipeline) RunFull(ctx context.Context, coords []domain.Coordinate, startDate, endDate string, cropNames []string) error {
	if _, err := p.RunSoil(ctx, coords); err != nil {
		return err
	}
	if _, err := p.RunWeather(ctx, coords, startDate, endDate); err != nil {
		return err
	}
	_, err := p.RunCrop(ctx, cropNames)
	return err
}

// runAudited brackets a batch body with audit rows and metrics. The body's
// error is recorded to the FAILED audit row and then returned unchanged.
func (p *Pipeline) runAudited(ctx context.Context, name string,
	body func(ctx context.Context, batchID string, logger *slog.Logger) (extracted, loaded int, err error)) (string, error) {
	batchID := NewBatchID(name)
	logger := p.logger.With("batch_id", batchID, "pipeline", name)

	if err := p.warehouse.InitAudit(ctx, batchID, name); err != nil {
		return batchID, fmt.Errorf("init audit: %w", err)
	}
	logger.Info("batch started")

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	start := time.Now()
	extracted, loaded, err := body(ctx, batchID, logger)
	p.metrics.BatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	p.metrics.RecordsExtracted.WithLabelValues(name).Add(float64(extracted))
	p.metrics.RecordsLoaded.WithLabelValues(name).Add(float64(loaded))

	if err != nil {
		p.metrics.LoadFailures.WithLabelValues(name).Inc()
		logger.Error("batch failed", "extracted", extracted, "loaded", loaded, "error", err)
		if auditErr := p.warehouse.AuditCompletion(ctx, batchID, domain.BatchFailed, extracted, loaded, err.Error()); auditErr != nil {
			logger.Error("audit completion failed", "error", auditErr)
		}
		return batchID, err
	}

	if err := p.warehouse.AuditCompletion(ctx, batchID, domain.BatchSuccess, extracted, loaded, ""); err != nil {
		return batchID, fmt.Errorf("audit completion: %w", err)
	}
	p.ready.Store(true)
	logger.Info("batch complete", "extracted", extracted, "loaded", loaded)
	return batchID, nil
}

func (p *Pipeline) observeValidation(name string, cleaner *domain.Cleaner) {
	report := cleaner.Report()
	if report.ErrorCount > 0 {
		p.metrics.ValidationIssues.WithLabelValues(name).Add(float64(report.ErrorCount))
		p.logger.Warn("validation issues during cleaning",
			"pipeline", name, "count", report.ErrorCount, "sample", report.Errors)
	}
}

func validateAll(coords []domain.Coordinate) error {
	for _, coord := range coords {
		if err := domain.ValidateCoordinates(coord.Lat, coord.Lon); err != nil {
			return err
		}
	}
	return nil
}
