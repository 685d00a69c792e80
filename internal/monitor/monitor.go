// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package monitor serves the read-only monitoring view: health, the shared
// pipeline status record, and Prometheus metrics. It is the only HTTP
// surface of the system and consumes state strictly read-only.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/parkwaits/internal/logging"
	"github.com/tomtom215/parkwaits/internal/state"
)

// staleAfter is the status age past which the pipeline is reported unknown.
const staleAfter = 36 * time.Hour

// Server is the monitoring HTTP view.
type Server struct {
	addr   string
	layout state.Layout
	srv    *http.Server
}

// NewServer builds the view bound to addr (host:port).
func NewServer(addr string, layout state.Layout) *Server {
	s := &Server{addr: addr, layout: layout}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/v1/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Serve runs the server until the context is canceled. It satisfies the
// suture service contract.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("Monitoring view listening")
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:errcheck // best-effort shutdown on cancellation
		s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse wraps the pipeline status with a derived freshness field.
type statusResponse struct {
	Pipeline *state.Status `json:"pipeline,omitempty"`
	State    string        `json:"state"` // ok | unknown
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := state.ReadStatus(s.layout.StatusPath())
	if err != nil {
		// A torn or unreadable status file renders as unknown, not a 500.
		logging.Warn().Err(err).Msg("Could not read pipeline status")
		writeJSON(w, http.StatusOK, statusResponse{State: "unknown"})
		return
	}
	if st == nil {
		writeJSON(w, http.StatusOK, statusResponse{State: "unknown"})
		return
	}
	resp := statusResponse{Pipeline: st, State: "ok"}
	if time.Since(st.LastUpdated) > staleAfter {
		resp.State = "unknown"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
