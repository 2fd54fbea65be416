// Package api exposes the ledger and rollup operations over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"Cassegrain/internal/ledger"
	"Cassegrain/internal/logger"
	"Cassegrain/internal/metrics"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 64 << 10
)

// Server is the HTTP API server.
type Server struct {
	addr    string           // addr is the HTTP listen address
	mux     *http.ServeMux   // mux holds the routes of one node kind
	metrics *metrics.Metrics // metrics records operation outcomes, may be nil
	server  *http.Server     // server is the underlying HTTP server
}

// newServer creates a server with the routes shared by both node kinds.
func newServer(addr string, m *metrics.Metrics) *Server {
	s := &Server{
		addr:    addr,
		mux:     http.NewServeMux(),
		metrics: m,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}

	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// finish records the operation and writes either the result or the error.
func (s *Server) finish(w http.ResponseWriter, op string, start time.Time, status int, result any, err error) {
	if err != nil {
		s.metrics.ObserveOp(op, ledger.Kind(err), start)
		writeFailure(w, op, err)
		return
	}

	s.metrics.ObserveOp(op, metrics.OutcomeOK, start)
	writeJSON(w, status, result)
}

// decodeBody reads a JSON request body into dst. Unknown fields are rejected.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, ledger.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
	}

	return nil
}

// pathHash parses a hex hash from a path segment.
func pathHash(r *http.Request, name string) (ledger.Hash, error) {
	return ledger.ParseHash(r.PathValue(name))
}

// statusOf maps the error taxonomy to an HTTP status.
func statusOf(err error) int {
	switch ledger.CodeOf(err) {
	case ledger.CodeUnauthorized:
		return http.StatusForbidden
	case ledger.CodeProgramPaused, ledger.CodeDelegated:
		return http.StatusLocked
	case ledger.CodeInvalidInput:
		return http.StatusBadRequest
	case ledger.CodeRateLimited:
		return http.StatusTooManyRequests
	case ledger.CodeNotFound, ledger.CodeNotDelegated:
		return http.StatusNotFound
	case ledger.CodeAlreadyExists, ledger.CodeStaleCommit:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with the status its taxonomy code maps to.
func writeFailure(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("operation failed", "op", op, "error", err)
		writeError(w, status, "internal error")
		return
	}

	logger.Debug("operation rejected", "op", op, "error", err)

	if ledger.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  ledger.Kind(err),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
