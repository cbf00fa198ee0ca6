// Package warehouse loads transformed rows into the analytical star schema
// over database/sql. The same Store runs against PostgreSQL (pgx stdlib
// driver) in production and SQLite in tests; the dialect seam covers
// placeholder style and DDL fragments, the SQL itself is shared.
package warehouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/transform"
)

// Dialect selects placeholder and DDL conventions.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const defaultBatchSize = 1000

type Store struct {
	db        *sql.DB
	dialect   Dialect
	logger    *slog.Logger
	batchSize int
}

// New wraps an open database handle. batchSize bounds weather chunk inserts;
// zero selects the default of 1000.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Store{db: db, dialect: dialect, logger: logger, batchSize: batchSize}
}

// rebind converts ?-style placeholders to $N for PostgreSQL. SQLite queries
// pass through untouched.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadLocations resolves each row to a surrogate key, inserting a dimension
// row when no current one matches the content hash. A failing record is
// logged and skipped; the rest of the batch proceeds. The returned map is
// keyed by location hash.
//
// The lookup and insert are not atomic. A concurrent loader can race past the
// lookup and insert a duplicate hash; both keys stay valid and reads resolve
// through whichever the next lookup returns first.
func (s *Store) LoadLocations(ctx context.Context, rows []transform.LocationRow) (map[string]int64, error) {
	keys := make(map[string]int64, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		key, err := s.ensureLocation(ctx, row)
		if err != nil {
			s.logger.Warn("skipping location row",
				"lat", row.Latitude, "lon", row.Longitude, "error", err)
			continue
		}
		keys[row.LocationHash] = key
	}
	return keys, nil
}

func (s *Store) ensureLocation(ctx context.Context, row transform.LocationRow) (int64, error) {
	var key int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT location_key FROM dim_location
		WHERE location_hash = ? AND is_current = TRUE
		LIMIT 1
	`), row.LocationHash).Scan(&key)
	if err == nil {
		return key, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup location: %w", err)
	}

	err = s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO dim_location (latitude, longitude, country_code, country_name, admin_region, location_hash, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, TRUE, ?)
		RETURNING location_key
	`), row.Latitude, row.Longitude, row.CountryCode, row.CountryName, row.AdminRegion,
		row.LocationHash, domain.Now().UTC().Format(time.RFC3339)).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert location: %w", err)
	}
	return key, nil
}

// LoadSoil upserts soil rows on (location_key, extraction_date). Re-loads
// overwrite only texture, pH and metadata; composition percentages from the
// first load are kept. Failing records are logged and skipped.
func (s *Store) LoadSoil(ctx context.Context, rows []transform.SoilRow) (int, error) {
	loaded := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO dim_soil (location_key, soil_texture, clay_pct, sand_pct, silt_pct, ph, organic_carbon_pct, bulk_density, water_capacity, soil_depth_cm, extraction_date, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(location_key, extraction_date) DO UPDATE SET
				soil_texture = excluded.soil_texture,
				ph = excluded.ph,
				metadata = excluded.metadata
		`), row.LocationKey, row.SoilTexture, row.Clay, row.Sand, row.Silt, row.PH,
			row.OrganicCarbon, row.BulkDensity, row.WaterCapacity, row.SoilDepthCM,
			row.ExtractionDate, row.Metadata)
		if err != nil {
			s.logger.Warn("skipping soil row", "location_key", row.LocationKey, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// LoadWeather upserts weather facts in transactional chunks. Conflicting
// (date_key, location_key) rows are fully overwritten including the batch
// stamp, so a re-run replaces stale facts. A chunk failure rolls the chunk
// back, is logged, and the whole load reports zero rows without failing the
// batch; only context cancellation surfaces as an error.
func (s *Store) LoadWeather(ctx context.Context, rows []transform.WeatherRow, batchID string) (int, error) {
	upsert := s.rebind(`
		INSERT INTO fact_weather (date_key, location_key, latitude, longitude, temp_max_c, temp_min_c, temp_mean_c, precipitation_mm, evapotranspiration_mm, solar_radiation, humidity_pct, wind_speed, weather_code, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date_key, location_key) DO UPDATE SET
			temp_max_c = excluded.temp_max_c,
			temp_min_c = excluded.temp_min_c,
			temp_mean_c = excluded.temp_mean_c,
			precipitation_mm = excluded.precipitation_mm,
			evapotranspiration_mm = excluded.evapotranspiration_mm,
			solar_radiation = excluded.solar_radiation,
			humidity_pct = excluded.humidity_pct,
			wind_speed = excluded.wind_speed,
			weather_code = excluded.weather_code,
			batch_id = excluded.batch_id
	`)

	loaded := 0
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.loadWeatherChunk(ctx, upsert, rows[start:end], batchID); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			s.logger.Error("weather bulk load failed", "offset", start, "batch_id", batchID, "error", err)
			return 0, nil
		}
		loaded += end - start
	}
	return loaded, nil
}

func (s *Store) loadWeatherChunk(ctx context.Context, upsert string, chunk []transform.WeatherRow, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, row := range chunk {
		if _, err := tx.ExecContext(ctx, upsert,
			row.DateKey, row.LocationKey, row.Latitude, row.Longitude,
			row.TempMax, row.TempMin, row.TempMean, row.Precipitation,
			row.Evapotranspiration, row.SolarRadiation, row.Humidity,
			row.WindSpeed, row.WeatherCode, batchID); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert date_key %d location %d: %w", row.DateKey, row.LocationKey, err)
		}
	}
	return tx.Commit()
}

// LoadCropRequirements upserts crop profiles by canonical name. A re-extracted
// crop fully replaces the previous profile including its evidence. Failing
// records are logged and skipped.
func (s *Store) LoadCropRequirements(ctx context.Context, rows []transform.CropRow) (int, error) {
	loaded := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO dim_crop (crop_name, temp_min_c, temp_max_c, water_mm_per_day, sunlight_hours_min, sunlight_hours_max, ph_min, ph_max, confidence, extraction_date, source_evidence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(crop_name) DO UPDATE SET
				temp_min_c = excluded.temp_min_c,
				temp_max_c = excluded.temp_max_c,
				water_mm_per_day = excluded.water_mm_per_day,
				sunlight_hours_min = excluded.sunlight_hours_min,
				sunlight_hours_max = excluded.sunlight_hours_max,
				ph_min = excluded.ph_min,
				ph_max = excluded.ph_max,
				confidence = excluded.confidence,
				extraction_date = excluded.extraction_date,
				source_evidence = excluded.source_evidence
		`), row.CropName, row.TempMinC, row.TempMaxC, row.WaterMMPerDay,
			row.SunlightMin, row.SunlightMax, row.PHMin, row.PHMax,
			row.Confidence, row.ExtractionDate, row.SourceEvidence)
		if err != nil {
			s.logger.Warn("skipping crop row", "crop", row.CropName, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// AuditEntry mirrors one etl_audit_log row.
type AuditEntry struct {
	BatchID          string
	PipelineName     string
	Status           domain.BatchStatus
	RecordsExtracted int
	RecordsLoaded    int
	ErrorMessage     sql.NullString
	StartedAt        string
	CompletedAt      sql.NullString
}

// InitAudit records a batch as RUNNING before any load begins.
func (s *Store) InitAudit(ctx context.Context, batchID, pipelineName string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO etl_audit_log (batch_id, pipeline_name, status, started_at)
		VALUES (?, ?, ?, ?)
	`), batchID, pipelineName, string(domain.BatchRunning), domain.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("init audit %s: %w", batchID, err)
	}
	return nil
}

// AuditCompletion moves a RUNNING batch to its terminal status. Rows already
// terminal are left untouched, keeping the transition single-shot.
func (s *Store) AuditCompletion(ctx context.Context, batchID string, status domain.BatchStatus, extracted, loaded int, errMsg string) error {
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE etl_audit_log
		SET status = ?, records_extracted = ?, records_loaded = ?, error_message = ?, completed_at = ?
		WHERE batch_id = ? AND status = ?
	`), string(status), extracted, loaded, msg,
		domain.Now().UTC().Format(time.RFC3339), batchID, string(domain.BatchRunning))
	if err != nil {
		return fmt.Errorf("complete audit %s: %w", batchID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("complete audit %s: batch not found or already terminal", batchID)
	}
	return nil
}

// GetAudit reads one audit row, nil when absent.
func (s *Store) GetAudit(ctx context.Context, batchID string) (*AuditEntry, error) {
	var e AuditEntry
	var status string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT batch_id, pipeline_name, status, records_extracted, records_loaded, error_message, started_at, completed_at
		FROM etl_audit_log
		WHERE batch_id = ?
	`), batchID).Scan(&e.BatchID, &e.PipelineName, &status, &e.RecordsExtracted,
		&e.RecordsLoaded, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = domain.BatchStatus(status)
	return &e, nil
}

// FirstApplication reports whether (changeType, key) has never been applied,
// claiming it atomically. The stored key is a digest so arbitrary natural keys
// stay bounded in size.
func (s *Store) FirstApplication(ctx context.Context, changeType, key string) (bool, error) {
	sum := sha256.Sum256([]byte(changeType + ":" + key))
	digest := hex.EncodeToString(sum[:])

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO etl_idempotency_keys (idempotency_key, change_type, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`), digest, changeType, domain.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
