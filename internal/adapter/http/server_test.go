package http_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/fieldsift/agroclimate-etl/internal/adapter/http"
	"github.com/fieldsift/agroclimate-etl/internal/domain"
	"github.com/fieldsift/agroclimate-etl/internal/warehouse"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockAudits struct {
	entries map[string]*warehouse.AuditEntry
	err     error
}

func (m *mockAudits) GetAudit(_ context.Context, batchID string) (*warehouse.AuditEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.entries[batchID], nil
}

func newTestServer(readyErr error, audits *mockAudits) *httpadapter.Server {
	if audits == nil {
		audits = &mockAudits{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, audits, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("warehouse unreachable"), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "warehouse unreachable", body["error"])
}

func TestBatchLookup(t *testing.T) {
	audits := &mockAudits{entries: map[string]*warehouse.AuditEntry{
		"soil_20260314_090000_0badf00d": {
			BatchID:          "soil_20260314_090000_0badf00d",
			PipelineName:     "soil",
			Status:           domain.BatchFailed,
			RecordsExtracted: 40,
			ErrorMessage:     sql.NullString{String: "load refused", Valid: true},
			StartedAt:        "2026-03-14T09:00:00Z",
			CompletedAt:      sql.NullString{String: "2026-03-14T09:00:12Z", Valid: true},
		},
	}}
	srv := newTestServer(nil, audits)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/batches/soil_20260314_090000_0badf00d", nil)

		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "FAILED", body["status"])
		assert.Equal(t, "load refused", body["error_message"])
		assert.Equal(t, float64(40), body["records_extracted"])
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/batches/nope", nil)

		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lookup error", func(t *testing.T) {
		broken := newTestServer(nil, &mockAudits{err: fmt.Errorf("db gone")})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/batches/x", nil)

		broken.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
