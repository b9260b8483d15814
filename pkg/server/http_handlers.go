package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterHTTPHandlers wires the HTTP surface onto the given mux:
// WebSocket transport, health and Prometheus metrics.
func (s *Server) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// HealthHandler reports basic liveness and registry counts.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status        string `json:"status"`
		UptimeSeconds int64  `json:"uptime_seconds"`
		OnlineUsers   int    `json:"online_users"`
	}{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		OnlineUsers:   s.registry.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		errorLog.Printf("Failed to write health response: %v", err)
	}
}
