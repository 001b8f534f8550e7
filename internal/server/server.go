package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/elkampu/wpfhikip-sub000/internal/mdns"
)

// Config holds the inventory server configuration
type Config struct {
	Host           string
	Port           int
	RescanInterval time.Duration // Interval between discovery sessions
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Graceful HTTP shutdown budget
	shutdownWait = 5 * time.Second

	defaultRescanInterval = 60 * time.Second
)

// Server exposes the discovery engine over HTTP: a JSON inventory endpoint
// and a WebSocket stream of discovered/updated/expired events. It also runs
// discovery sessions on a fixed interval to keep the cache fresh.
type Server struct {
	config *Config
	engine *mdns.Engine
	log    *zap.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New creates a Server around an existing engine. The engine's event
// channel is consumed by the server; run at most one server per engine.
func New(config *Config, engine *mdns.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if config.RescanInterval <= 0 {
		config.RescanInterval = defaultRescanInterval
	}
	return &Server{
		config:  config,
		engine:  engine,
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Run starts the periodic scan loop, the event pump and the HTTP listener,
// and blocks until the context is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.pumpEvents(ctx)
	go s.scanLoop(ctx)

	s.log.Info("inventory server listening",
		zap.String("addr", addr),
		zap.Duration("rescan_interval", s.config.RescanInterval))

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown failed", zap.Error(err))
		}
		s.closeClients()
		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

// scanLoop keeps the device cache fresh: one session immediately, then one
// per rescan interval. A session already in flight is simply skipped.
func (s *Server) scanLoop(ctx context.Context) {
	s.runScan(ctx)

	ticker := time.NewTicker(s.config.RescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScan(ctx)
		}
	}
}

func (s *Server) runScan(ctx context.Context) {
	devices, err := s.engine.Scan(ctx)
	if err != nil {
		if errors.Is(err, mdns.ErrScanInProgress) {
			s.log.Debug("scan skipped, session already running")
			return
		}
		s.log.Warn("scan failed", zap.Error(err))
		return
	}
	s.log.Info("scan finished", zap.Int("devices", len(devices)))
}

// pumpEvents forwards engine events to every connected WebSocket client.
func (s *Server) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.engine.Events():
			s.broadcast(ev)
		}
	}
}

func (s *Server) broadcast(ev mdns.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug("websocket write failed, dropping client",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Error(err))
			_ = conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.Close()
		delete(s.clients, conn)
	}
}
