// Package operatorapi implements the five-endpoint operator API described
// in §4.7/§6: listing and fetching stored captures, replaying one, and
// running the reflected-XSS scan against one. Authentication is out of
// scope (§4.7), so unlike the teacher's api.Server this mux carries no
// auth middleware.
package operatorapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rustyproxy/rustyproxy/internal/capturestore"
	"github.com/rustyproxy/rustyproxy/internal/scanner"
)

// Server wraps the HTTP server and mux for the operator API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires all five routes onto a fresh ServeMux.
func NewServer(port int, store capturestore.Store, sc *scanner.Scanner) *Server {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", handleHealthz())
	mux.Handle("GET /requests", handleListRequests(store))
	mux.Handle("GET /requests/{id}", handleGetRequest(store))
	mux.Handle("GET /repeat/{id}", handleRepeat(store, sc))
	mux.Handle("GET /scan/{id}", handleScan(store, sc))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return &Server{httpServer: srv, mux: mux}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
