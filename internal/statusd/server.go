// Package statusd implements a read-only HTTP and WebSocket dashboard over
// an R3 repository: job listings, manifest/metadata detail, and live
// updates when the index changes. It never calls Commit, Remove, or Pull —
// a dashboard reader must not become a second committer — which keeps it
// outside the core's concurrency model entirely (§5 permits readers to
// proceed freely alongside writers).
package statusd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/r3/r3/internal/index"
)

// Server serves the status dashboard for a single repository.
type Server struct {
	addr   string
	root   string
	idx    *index.Index
	webFS  fs.FS
	logger *slog.Logger

	httpServer *http.Server
	limiter    *rateLimiter

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// apiRate and apiBurst bound how often a single client may call the JSON
// API or open a WebSocket before seeing 429s.
const (
	apiRate  = 10
	apiBurst = 30
)

// New constructs a dashboard server for the repository at root, serving
// webFS as static assets. Job listings are read from root's jobs/ directory;
// idx is kept on the Server but its handlers do not query it.
func New(root, addr string, idx *index.Index, webFS fs.FS) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		root:    root,
		idx:     idx,
		webFS:   webFS,
		logger:  slog.Default(),
		clients: make(map[*client]struct{}),
		limiter: newRateLimiter(apiRate, apiBurst, time.Second),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins serving and blocks until the server is stopped or fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", s.limiter.middleware(writeDeadline(5*time.Second, s.handleListJobs)))
	mux.HandleFunc("GET /api/jobs/{id}", s.limiter.middleware(writeDeadline(5*time.Second, s.handleJobDetail)))
	mux.HandleFunc("GET /ws", s.limiter.middleware(s.handleWebSocket))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /", http.FileServerFS(s.webFS))

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           requestLogger(s.logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("status dashboard listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status dashboard: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.limiter.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// NotifyChanged pushes a refresh event to every connected dashboard client.
// internal/index.Index's watch loop calls this after every rebuild so open
// browser tabs reflect new commits without polling.
func (s *Server) NotifyChanged() {
	s.broadcast(wsMessage{Type: "changed"})
}
