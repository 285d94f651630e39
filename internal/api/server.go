// Package api serves the bot's status over HTTP and pushes live snapshots to
// websocket subscribers. It reads the engine through the narrow
// StatusProvider interface and never touches the trade pipeline.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"triarb/internal/config"
)

// snapshotPeriod is how often connected websocket clients receive a fresh
// snapshot.
const snapshotPeriod = 2 * time.Second

// Server runs the HTTP/WebSocket status API
type Server struct {
	cfg      config.APIConfig
	provider StatusProvider
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	done     chan struct{}
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(
	cfg config.APIConfig,
	provider StatusProvider,
	fullCfg config.Config,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, fullCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/status", handlers.HandleStatus)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		done:     make(chan struct{}),
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and hub
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.hub.Run()

	// Push snapshots to subscribers
	go s.pushSnapshots()

	s.logger.Info("status server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping status server")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// pushSnapshots broadcasts a fresh snapshot on every period tick. With no
// clients connected it skips the work entirely.
func (s *Server) pushSnapshots() {
	ticker := time.NewTicker(snapshotPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.BroadcastSnapshot(BuildSnapshot(s.provider, s.fullCfg))
		}
	}
}
