// Package soilgrids fetches soil composition for a coordinate from the ISRIC
// SoilGrids API. Responses carry fixed-point integers; the client rescales
// them to the units the rest of the service works in.
package soilgrids

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/fieldsift/agroclimate-etl/internal/config"
	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/observability"
)

const sourceName = "soilgrids"

// requested properties and their divisor from the API's fixed-point encoding.
var propertyScale = map[string]float64{
	"clay":   10,  // g/kg to percent
	"sand":   10,  // g/kg to percent
	"silt":   10,  // g/kg to percent
	"phh2o":  10,  // pH*10 to pH
	"soc":    10,  // dg/kg to g/kg
	"bdod":   100, // cg/cm3 to g/cm3
	"wv0010": 10,  // 0.1 vol% to vol%
}

// Client fetches 0-5cm topsoil properties.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a SoilGrids client with rate limiting and retries taken
// from service config.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		baseURL:    cfg.SoilGridsURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.APIRateLimit), 1),
		maxRetries: cfg.APIRetries,
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchSoil retrieves the topsoil sample for one coordinate. Transient
// failures (5xx, network) are retried with exponential backoff; client errors
// abort immediately.
func (c *Client) FetchSoil(ctx context.Context, lat, lon float64) (domain.RawSoil, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.RawSoil{}, err
	}

	params := url.Values{
		"lat":   {fmt.Sprintf("%.6f", lat)},
		"lon":   {fmt.Sprintf("%.6f", lon)},
		"depth": {"0-5cm"},
		"value": {"mean"},
	}
	for prop := range propertyScale {
		params.Add("property", prop)
	}
	fullURL := c.baseURL + "/properties/query?" + params.Encode()

	var body []byte
	op := func() error {
		var err error
		body, err = c.get(ctx, fullURL)
		return err
	}
	start := time.Now()
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx))
	c.metrics.APIDuration.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.APIRequests.WithLabelValues(sourceName, "error").Inc()
		return domain.RawSoil{}, fmt.Errorf("soilgrids query (%.4f, %.4f): %w", lat, lon, err)
	}
	c.metrics.APIRequests.WithLabelValues(sourceName, "success").Inc()

	soil, err := parseResponse(body, lat, lon)
	if err != nil {
		return domain.RawSoil{}, fmt.Errorf("soilgrids response (%.4f, %.4f): %w", lat, lon, err)
	}
	return soil, nil
}

func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		c.logger.Warn("soilgrids request failed, retrying", "status", resp.StatusCode)
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// SoilGrids v2 response types.

type response struct {
	Properties struct {
		Layers []layer `json:"layers"`
	} `json:"properties"`
}

type layer struct {
	Name   string `json:"name"`
	Depths []struct {
		Label  string `json:"label"`
		Values struct {
			Mean *float64 `json:"mean"`
		} `json:"values"`
	} `json:"depths"`
}

func parseResponse(body []byte, lat, lon float64) (domain.RawSoil, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.RawSoil{}, fmt.Errorf("decode: %w", err)
	}

	soil := domain.RawSoil{
		Latitude:   lat,
		Longitude:  lon,
		Source:     sourceName,
		SourceTime: domain.Now().UTC().Format(time.RFC3339),
	}

	for _, l := range resp.Properties.Layers {
		scale, known := propertyScale[l.Name]
		if !known || len(l.Depths) == 0 || l.Depths[0].Values.Mean == nil {
			continue
		}
		v := *l.Depths[0].Values.Mean / scale
		switch l.Name {
		case "clay":
			soil.Clay = &v
		case "sand":
			soil.Sand = &v
		case "silt":
			soil.Silt = &v
		case "phh2o":
			soil.PH = &v
		case "soc":
			soil.OrganicCarbon = &v
		case "bdod":
			soil.BulkDensity = &v
		case "wv0010":
			soil.WaterCapacity = &v
		}
	}
	return soil, nil
}
