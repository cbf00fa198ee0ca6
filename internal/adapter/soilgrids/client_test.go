package soilgrids

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fieldsift/agroclimate-etl/internal/observability"
)

const sampleResponse = `{
	"properties": {
		"layers": [
			{"name": "clay", "depths": [{"label": "0-5cm", "values": {"mean": 221}}]},
			{"name": "sand", "depths": [{"label": "0-5cm", "values": {"mean": 403}}]},
			{"name": "silt", "depths": [{"label": "0-5cm", "values": {"mean": 376}}]},
			{"name": "phh2o", "depths": [{"label": "0-5cm", "values": {"mean": 65}}]},
			{"name": "soc", "depths": [{"label": "0-5cm", "values": {"mean": 184}}]},
			{"name": "bdod", "depths": [{"label": "0-5cm", "values": {"mean": 132}}]},
			{"name": "wv0010", "depths": [{"label": "0-5cm", "values": {"mean": 280}}]}
		]
	}
}`

func testClient(baseURL string, retries int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: retries,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    observability.NewMetricsForTesting(),
	}
}

func TestFetchSoil_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/properties/query", r.URL.Path)
		assert.Equal(t, "45.500000", r.URL.Query().Get("lat"))
		assert.Equal(t, "0-5cm", r.URL.Query().Get("depth"))
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	soil, err := testClient(srv.URL, 0).FetchSoil(context.Background(), 45.5, -122.6)
	require.NoError(t, err)

	// Fixed-point integers come back rescaled.
	require.NotNil(t, soil.Clay)
	assert.Equal(t, 22.1, *soil.Clay)
	assert.Equal(t, 40.3, *soil.Sand)
	assert.Equal(t, 37.6, *soil.Silt)
	assert.Equal(t, 6.5, *soil.PH)
	assert.Equal(t, 18.4, *soil.OrganicCarbon)
	assert.Equal(t, 1.32, *soil.BulkDensity)
	assert.Equal(t, 28.0, *soil.WaterCapacity)
	assert.Equal(t, "soilgrids", soil.Source)
	assert.Equal(t, 45.5, soil.Latitude)
}

func TestFetchSoil_MissingProperties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"properties": {"layers": [
			{"name": "clay", "depths": [{"label": "0-5cm", "values": {"mean": null}}]},
			{"name": "phh2o", "depths": [{"label": "0-5cm", "values": {"mean": 70}}]}
		]}}`))
	}))
	defer srv.Close()

	soil, err := testClient(srv.URL, 0).FetchSoil(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Nil(t, soil.Clay)
	assert.Equal(t, 7.0, *soil.PH)
}

func TestFetchSoil_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	soil, err := testClient(srv.URL, 2).FetchSoil(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotNil(t, soil.Clay)
}

func TestFetchSoil_ClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).FetchSoil(context.Background(), 10, 20)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "status 400")
}

func TestFetchSoil_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{nope`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 0).FetchSoil(context.Background(), 10, 20)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
