// Package scraper retrieves crop profile prose from a registry of agronomy
// sites, converting HTML to plain text for the requirement extractor.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/fieldsift/agroclimate-etl/internal/config"
	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/observability"
)

const sourceName = "scraper"

// minTextLength filters out error pages and stubs that convert to almost no
// prose.
const minTextLength = 200

// Source is one site in the registry. Reliability feeds the text source
// metadata so downstream consumers can weight extractions.
type Source struct {
	Name        string
	URLTemplate string // receives the crop slug
	Reliability float64
}

// DefaultRegistry lists sources in descending reliability; the first source
// that yields usable text wins.
func DefaultRegistry() []Source {
	return []Source{
		{Name: "fao", URLTemplate: "https://www.fao.org/land-water/databases-and-software/crop-information/%s/en/", Reliability: 0.95},
		{Name: "usda", URLTemplate: "https://plants.usda.gov/home/plantProfile?symbol=%s", Reliability: 0.90},
		{Name: "extension", URLTemplate: "https://extension.umn.edu/crop-production/%s", Reliability: 0.85},
	}
}

// Scraper fetches crop pages with a politeness delay between requests and
// never fetches the same URL twice in its lifetime. Not safe for concurrent
// use; the pipeline drives it from a single goroutine.
type Scraper struct {
	httpClient *http.Client
	registry   []Source
	delay      time.Duration
	visited    map[string]bool
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Scraper over the given registry. An empty registry falls back
// to the default one.
func New(cfg *config.Config, registry []Source, logger *slog.Logger, metrics *observability.Metrics) *Scraper {
	if len(registry) == 0 {
		registry = DefaultRegistry()
	}
	return &Scraper{
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		registry:   registry,
		delay:      cfg.ScrapeDelay,
		visited:    make(map[string]bool),
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchCropText tries the registry in order and returns the first usable
// text. When every source misses, the error is ErrNoSource so callers can
// skip the crop rather than fail the batch.
func (s *Scraper) FetchCropText(ctx context.Context, cropName string) (domain.TextSource, error) {
	slug := Slug(cropName)
	for _, src := range s.registry {
		pageURL := fmt.Sprintf(src.URLTemplate, slug)
		if s.visited[pageURL] {
			continue
		}
		s.visited[pageURL] = true

		text, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return domain.TextSource{}, ctx.Err()
			}
			s.logger.Debug("source miss", "crop", cropName, "source", src.Name, "error", err)
			continue
		}
		return domain.TextSource{
			CropName:    cropName,
			SourceURL:   pageURL,
			RawText:     text,
			RetrievedAt: domain.Today(),
			Reliability: src.Reliability,
		}, nil
	}
	return domain.TextSource{}, fmt.Errorf("crop %q: %w", cropName, domain.ErrNoSource)
}

// FetchAll collects text for each crop, skipping crops with no usable source.
// Order follows the input for the crops that survive.
func (s *Scraper) FetchAll(ctx context.Context, cropNames []string) ([]domain.TextSource, error) {
	sources := make([]domain.TextSource, 0, len(cropNames))
	for _, name := range cropNames {
		src, err := s.FetchCropText(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return sources, ctx.Err()
			}
			s.logger.Warn("no source for crop, skipping", "crop", name)
			continue
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func (s *Scraper) fetchPage(ctx context.Context, pageURL string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "agroclimate-etl/1.0")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	s.metrics.APIDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.APIRequests.WithLabelValues(sourceName, "error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.APIRequests.WithLabelValues(sourceName, "error").Inc()
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.metrics.APIRequests.WithLabelValues(sourceName, "error").Inc()
		return "", fmt.Errorf("read body: %w", err)
	}

	text := strings.TrimSpace(html2text.HTML2Text(string(body)))
	if len(text) < minTextLength {
		s.metrics.APIRequests.WithLabelValues(sourceName, "error").Inc()
		return "", fmt.Errorf("page too short (%d chars)", len(text))
	}
	s.metrics.APIRequests.WithLabelValues(sourceName, "success").Inc()
	return text, nil
}

// Slug converts a crop name to the lowercase hyphenated form sites key
// their pages by.
func Slug(cropName string) string {
	slug := strings.ToLower(strings.TrimSpace(cropName))
	return strings.ReplaceAll(slug, " ", "-")
}
