package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	_ "github.com/jackc/pgx/v5/stdlib"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	httpadapter "github.com/fieldsift/agroclimate-etl/internal/adapter/http"
	"github.com/fieldsift/agroclimate-etl/internal/adapter/openmeteo"
	"github.com/fieldsift/agroclimate-etl/internal/adapter/scraper"
	"github.com/fieldsift/agroclimate-etl/internal/adapter/soilgrids"
	"github.com/fieldsift/agroclimate-etl/internal/config"
	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/extractor"
	"github.com/fieldsift/agroclimate-etl/internal/observability"
	"github.com/fieldsift/agroclimate-etl/internal/pipeline"
	"github.com/fieldsift/agroclimate-etl/internal/textnorm"
	"github.com/fieldsift/agroclimate-etl/internal/warehouse"
)

// Sample agricultural regions used when no coordinates are given.
var defaultCoords = []domain.Coordinate{
	{Lat: 41.8781, Lon: -87.6298},  // US Corn Belt
	{Lat: 52.5200, Lon: 13.4050},   // Germany
	{Lat: -23.5505, Lon: -46.6333}, // Brazil
	{Lat: 28.6139, Lon: 77.2090},   // India
}

var defaultCrops = []string{"wheat", "maize", "rice", "soybean", "potato"}

type cli struct {
	EnvFile kong.ConfigFlag `name:"env-file" help:"Load environment variables from a .env file." optional:""`
	Serve   bool            `help:"Keep the ops HTTP server running after the batch completes."`

	Soil    soilCmd    `cmd:"" help:"Extract and load topsoil properties for a set of coordinates."`
	Weather weatherCmd `cmd:"" help:"Extract and load daily weather history for a set of coordinates."`
	Crop    cropCmd    `cmd:"" help:"Scrape and load crop requirement profiles."`
	Full    fullCmd    `cmd:"" default:"1" help:"Run the soil, weather, and crop pipelines in sequence."`
}

type soilCmd struct {
	Coord []string `sep:"none" placeholder:"LAT,LON" help:"Coordinate to process; repeatable."`
}

type weatherCmd struct {
	Coord []string `sep:"none" placeholder:"LAT,LON" help:"Coordinate to process; repeatable."`
	Start string   `placeholder:"YYYY-MM-DD" help:"History start date (default: one year ago)."`
	End   string   `placeholder:"YYYY-MM-DD" help:"History end date (default: today)."`
}

type cropCmd struct {
	Crops []string `help:"Crop names to profile (default: wheat,maize,rice,soybean,potato)."`
}

type fullCmd struct {
	Coord []string `sep:"none" placeholder:"LAT,LON" help:"Coordinate to process; repeatable."`
	Start string   `placeholder:"YYYY-MM-DD" help:"History start date (default: one year ago)."`
	End   string   `placeholder:"YYYY-MM-DD" help:"History end date (default: today)."`
	Crops []string `help:"Crop names to profile (default: wheat,maize,rice,soybean,potato)."`
}

// app carries the wired service into command Run methods.
type app struct {
	ctx      context.Context
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

func (c *soilCmd) Run(a *app) error {
	coords, err := parseCoords(c.Coord)
	if err != nil {
		return err
	}
	_, err = a.pipeline.RunSoil(a.ctx, coords)
	return err
}

func (c *weatherCmd) Run(a *app) error {
	coords, err := parseCoords(c.Coord)
	if err != nil {
		return err
	}
	start, end := dateRange(c.Start, c.End)
	_, err = a.pipeline.RunWeather(a.ctx, coords, start, end)
	return err
}

func (c *cropCmd) Run(a *app) error {
	_, err := a.pipeline.RunCrop(a.ctx, cropList(c.Crops))
	return err
}

func (c *fullCmd) Run(a *app) error {
	coords, err := parseCoords(c.Coord)
	if err != nil {
		return err
	}
	start, end := dateRange(c.Start, c.End)
	return a.pipeline.RunFull(a.ctx, coords, start, end, cropList(c.Crops))
}

// parseCoords converts repeated "lat,lon" flags, falling back to the sample
// regions when none are given.
func parseCoords(raw []string) ([]domain.Coordinate, error) {
	if len(raw) == 0 {
		return defaultCoords, nil
	}
	coords := make([]domain.Coordinate, 0, len(raw))
	for _, s := range raw {
		lat, lon, ok := splitCoord(s)
		if !ok {
			return nil, fmt.Errorf("invalid coordinate %q, want LAT,LON", s)
		}
		coords = append(coords, domain.Coordinate{Lat: lat, Lon: lon})
	}
	return coords, nil
}

func splitCoord(s string) (lat, lon float64, ok bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return lat, lon, err1 == nil && err2 == nil
}

// dateRange defaults to the trailing year of history.
func dateRange(start, end string) (string, string) {
	now := domain.Now().UTC()
	if start == "" {
		start = now.AddDate(-1, 0, 0).Format("2006-01-02")
	}
	if end == "" {
		end = now.Format("2006-01-02")
	}
	return start, end
}

func cropList(crops []string) []string {
	if len(crops) == 0 {
		return defaultCrops
	}
	return crops
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("agroclimate-etl"),
		kong.Description("Agro-climate ETL: soil, weather, and crop requirement pipelines."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	db, dialect, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := warehouse.New(db, dialect, logger, cfg.BatchSize)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	ext, err := extractor.New(extractor.DefaultConfig())
	if err != nil {
		logger.Error("failed to build extractor", "error", err)
		os.Exit(1)
	}

	p := pipeline.New(
		soilgrids.NewClient(cfg, logger, metrics),
		openmeteo.NewClient(cfg, logger, metrics),
		scraper.New(cfg, scraper.DefaultRegistry(), logger, metrics),
		textnorm.New(),
		ext,
		store,
		logger,
		metrics,
	)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, store, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := kctx.Run(&app{ctx: ctx, pipeline: p, logger: logger})
	if runErr != nil {
		logger.Error("pipeline run failed", "error", runErr)
	}

	if flags.Serve && runErr == nil {
		logger.Info("batch complete, serving until interrupted", "addr", cfg.HTTPAddr)
		<-ctx.Done()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func openDatabase(cfg *config.Config) (*sql.DB, warehouse.Dialect, error) {
	switch cfg.DatabaseDriver {
	case "pgx":
		db, err := sql.Open("pgx", cfg.DatabaseDSN)
		return db, warehouse.DialectPostgres, err
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseDSN)
		if err == nil {
			// Single writer with a generous lock wait keeps chunked loads safe.
			db.SetMaxOpenConns(1)
			_, _ = db.Exec("PRAGMA journal_mode=WAL")
			_, _ = db.Exec("PRAGMA busy_timeout=5000")
		}
		return db, warehouse.DialectSQLite, err
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
