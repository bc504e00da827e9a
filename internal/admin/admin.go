package admin

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc produces the current server snapshot published to /health
// and streamed over /admin/ws, implemented by server.Server.
type StatsFunc func() map[string]interface{}

// Server is the admin HTTP surface (SPEC_FULL.md §"domain stack"): a
// small sibling to the raw-fd TCP reactor, run on Go's ordinary
// net/http stack since it carries no part of the wire protocol spec.md
// defines and has no latency budget worth a custom event loop for.
type Server struct {
	http   *http.Server
	hub    *hub
	stats  StatsFunc
	logger *log.Logger

	upgrader websocket.Upgrader
}

// New builds the admin HTTP server bound to addr.
func New(addr string, stats StatsFunc, logger *log.Logger) *Server {
	s := &Server{
		hub:    newHub(logger),
		stats:  stats,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/ws", s.handleWebSocket)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"stats":     s.stats(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("admin: upgrade failed: %v", err)
		return
	}
	s.hub.register <- conn
}

// Run starts the hub's fan-out loop and the HTTP listener, blocking
// until ctx is cancelled or ListenAndServe fails.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.tickStats(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// tickStats publishes a stats snapshot to admin WebSocket viewers once
// per second, the same cadence as the maintenance cron (spec.md §4.9).
func (s *Server) tickStats(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(s.stats())
			if err != nil {
				continue
			}
			s.hub.Publish(data)
		}
	}
}
