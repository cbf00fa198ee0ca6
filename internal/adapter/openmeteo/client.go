// Package openmeteo fetches daily historical weather from the Open-Meteo
// archive API and fans the columnar response out into per-day records.
package openmeteo

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

const sourceName = "openmeteo"

const dailyFields = "temperature_2m_max,temperature_2m_min,temperature_2m_mean," +
	"precipitation_sum,et0_fao_evapotranspiration,shortwave_radiation_sum," +
	"relative_humidity_2m_mean,wind_speed_10m_max,weather_code"

// Client fetches daily weather history for a coordinate range.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an Open-Meteo archive client with rate limiting and
// retries taken from service config.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.APITimeout},
		baseURL:    cfg.OpenMeteoURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.APIRateLimit), 1),
		maxRetries: cfg.APIRetries,
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchWeather retrieves one day-per-record weather history for a coordinate
// over [startDate, endDate], both YYYY-MM-DD inclusive. Individual days may
// carry nil fields when the archive has gaps.
func (c *Client) FetchWeather(ctx context.Context, lat, lon float64, startDate, endDate string) ([]domain.RawWeather, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"latitude":   {fmt.Sprintf("%.6f", lat)},
		"longitude":  {fmt.Sprintf("%.6f", lon)},
		"start_date": {startDate},
		"end_date":   {endDate},
		"daily":      {dailyFields},
		"timezone":   {"UTC"},
	}
	fullURL := c.baseURL + "/archive?" + params.Encode()

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
		return nil, fmt.Errorf("openmeteo query (%.4f, %.4f): %w", lat, lon, err)
	}
	c.metrics.APIRequests.WithLabelValues(sourceName, "success").Inc()

	days, err := parseResponse(body, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("openmeteo response (%.4f, %.4f): %w", lat, lon, err)
	}
	return days, nil
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
		c.logger.Warn("openmeteo request failed, retrying", "status", resp.StatusCode)
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Open-Meteo daily response is columnar: parallel arrays indexed by day.

type response struct {
	Daily daily `json:"daily"`
}

type daily struct {
	Time               []string   `json:"time"`
	TempMax            []*float64 `json:"temperature_2m_max"`
	TempMin            []*float64 `json:"temperature_2m_min"`
	TempMean           []*float64 `json:"temperature_2m_mean"`
	Precipitation      []*float64 `json:"precipitation_sum"`
	Evapotranspiration []*float64 `json:"et0_fao_evapotranspiration"`
	SolarRadiation     []*float64 `json:"shortwave_radiation_sum"`
	Humidity           []*float64 `json:"relative_humidity_2m_mean"`
	WindSpeed          []*float64 `json:"wind_speed_10m_max"`
	WeatherCode        []*int     `json:"weather_code"`
}

func parseResponse(body []byte, lat, lon float64) ([]domain.RawWeather, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	days := make([]domain.RawWeather, 0, len(resp.Daily.Time))
	for i, date := range resp.Daily.Time {
		days = append(days, domain.RawWeather{
			Latitude:           lat,
			Longitude:          lon,
			Date:               date,
			TempMax:            at(resp.Daily.TempMax, i),
			TempMin:            at(resp.Daily.TempMin, i),
			TempMean:           at(resp.Daily.TempMean, i),
			Precipitation:      at(resp.Daily.Precipitation, i),
			Evapotranspiration: at(resp.Daily.Evapotranspiration, i),
			SolarRadiation:     at(resp.Daily.SolarRadiation, i),
			Humidity:           at(resp.Daily.Humidity, i),
			WindSpeed:          at(resp.Daily.WindSpeed, i),
			WeatherCode:        at(resp.Daily.WeatherCode, i),
		})
	}
	return days, nil
}

// at tolerates value arrays shorter than the time axis.
func at[T any](values []*T, i int) *T {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
