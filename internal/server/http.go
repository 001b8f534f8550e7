package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/elkampu/wpfhikip-sub000/internal/mdns"
)

// devicesResponse is the JSON shape of GET /api/devices.
type devicesResponse struct {
	Count   int           `json:"count"`
	Devices []mdns.Device `json:"devices"`
}

// handleDevices returns the still-fresh inventory from the engine's cache.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.engine.KnownDevices()
	writeJSON(w, http.StatusOK, devicesResponse{
		Count:   len(devices),
		Devices: devices,
	})
	s.log.Debug("inventory served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("devices", len(devices)))
}

// handleScan triggers an out-of-cycle discovery session. The session runs
// in the background; a session already in flight is reported as a conflict.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mdns.DefaultSessionTimeout+time.Second)
		defer cancel()
		if _, err := s.engine.Scan(ctx); err != nil && !errors.Is(err, mdns.ErrScanInProgress) {
			s.log.Warn("triggered scan failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

// handleWebSocket upgrades the connection and registers it for event
// broadcasts. The read loop exists only to notice the peer going away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()
	s.log.Info("websocket client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("clients", clientCount))

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			_ = conn.Close()
			s.log.Info("websocket client disconnected",
				zap.String("remote_addr", r.RemoteAddr))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
