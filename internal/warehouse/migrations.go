package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// The {{pk}} token expands to the dialect's auto-incrementing key column.
// location_hash deliberately carries no UNIQUE constraint: lookup-then-insert
// is the documented identity protocol and duplicate hashes from concurrent
// writers are tolerated.
var migrations = []migration{
	{
		Version:     1,
		Description: "Initial star schema",
		SQL: `
CREATE TABLE IF NOT EXISTS dim_location (
    location_key {{pk}},
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    country_code TEXT,
    country_name TEXT,
    admin_region TEXT,
    location_hash TEXT NOT NULL,
    is_current BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_location_hash ON dim_location(location_hash);

CREATE TABLE IF NOT EXISTS dim_soil (
    soil_key {{pk}},
    location_key BIGINT NOT NULL,
    soil_texture TEXT,
    clay_pct REAL,
    sand_pct REAL,
    silt_pct REAL,
    ph REAL,
    organic_carbon_pct REAL,
    bulk_density REAL,
    water_capacity REAL,
    soil_depth_cm INTEGER NOT NULL,
    extraction_date TEXT NOT NULL,
    metadata TEXT,
    UNIQUE(location_key, extraction_date)
);

CREATE TABLE IF NOT EXISTS fact_weather (
    weather_key {{pk}},
    date_key INTEGER NOT NULL,
    location_key BIGINT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    temp_max_c REAL,
    temp_min_c REAL,
    temp_mean_c REAL,
    precipitation_mm REAL,
    evapotranspiration_mm REAL,
    solar_radiation REAL,
    humidity_pct REAL,
    wind_speed REAL,
    weather_code INTEGER,
    batch_id TEXT NOT NULL,
    UNIQUE(date_key, location_key)
);
CREATE INDEX IF NOT EXISTS idx_weather_location ON fact_weather(location_key);

CREATE TABLE IF NOT EXISTS dim_crop (
    crop_name TEXT PRIMARY KEY,
    temp_min_c REAL,
    temp_max_c REAL,
    water_mm_per_day REAL,
    sunlight_hours_min REAL,
    sunlight_hours_max REAL,
    ph_min REAL,
    ph_max REAL,
    confidence REAL NOT NULL,
    extraction_date TEXT NOT NULL,
    source_evidence TEXT
);
`,
	},
	{
		Version:     2,
		Description: "Audit log and idempotency keys",
		SQL: `
CREATE TABLE IF NOT EXISTS etl_audit_log (
    batch_id TEXT PRIMARY KEY,
    pipeline_name TEXT NOT NULL,
    status TEXT NOT NULL,
    records_extracted INTEGER NOT NULL DEFAULT 0,
    records_loaded INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS etl_idempotency_keys (
    idempotency_key TEXT PRIMARY KEY,
    change_type TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`,
	},
}

// Migrate applies pending schema versions inside transactions, recording each
// in schema_migrations so re-runs are no-ops.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, s.expand(m.SQL)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Description, domain.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)
	`)
	return err
}

func (s *Store) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// MigrationVersion reports the highest applied version, 0 when none.
func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// expand substitutes dialect-specific DDL fragments.
func (s *Store) expand(ddl string) string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(ddl, "{{pk}}", pk)
}
