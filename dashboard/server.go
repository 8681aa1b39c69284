// Package dashboard serves an HTTP JSON API over the recorded run
// history: listing runs, fetching captured output, and live-tailing the
// log of a run in progress.
package dashboard

import (
	"context"
	"net/http"

	"with-timeout/history"
)

// Server serves the run-history API.
type Server struct {
	store  *history.Store
	server *http.Server
}

// NewServer creates a history API server bound to the given address.
func NewServer(addr string, store *history.Store) *Server {
	s := &Server{store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/logs", s.handleGetLogs)
	mux.HandleFunc("GET /api/runs/{id}/logs/stream", s.handleStreamLogs)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start begins serving HTTP requests. This blocks until the server is
// shut down.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the server's mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
