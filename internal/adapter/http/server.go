package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldsift/agroclimate-etl/internal/warehouse"
)

// ReadinessChecker reports whether the service is ready to run batches,
// typically by pinging the warehouse.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// AuditReader exposes batch audit lookups to the ops surface.
type AuditReader interface {
	GetAudit(ctx context.Context, batchID string) (*warehouse.AuditEntry, error)
}

// Server exposes health, readiness, metrics, and batch audit HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /batches/{id} routes.
func NewServer(addr string, ready ReadinessChecker, audits AuditReader, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.HandleFunc("GET /batches/{id}", handleBatch(audits, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

type batchResponse struct {
	BatchID          string `json:"batch_id"`
	PipelineName     string `json:"pipeline_name"`
	Status           string `json:"status"`
	RecordsExtracted int    `json:"records_extracted"`
	RecordsLoaded    int    `json:"records_loaded"`
	ErrorMessage     string `json:"error_message,omitempty"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

func handleBatch(audits AuditReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := r.PathValue("id")

		entry, err := audits.GetAudit(r.Context(), batchID)
		if err != nil {
			logger.Error("audit lookup failed", "batch_id", batchID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit lookup failed"})
			return
		}
		if entry == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
			return
		}

		resp := batchResponse{
			BatchID:          entry.BatchID,
			PipelineName:     entry.PipelineName,
			Status:           string(entry.Status),
			RecordsExtracted: entry.RecordsExtracted,
			RecordsLoaded:    entry.RecordsLoaded,
			StartedAt:        entry.StartedAt,
		}
		if entry.ErrorMessage.Valid {
			resp.ErrorMessage = entry.ErrorMessage.String
		}
		if entry.CompletedAt.Valid {
			resp.CompletedAt = entry.CompletedAt.String
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
