package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/sidekick-edu/sidekick-bridge/internal/bridge"
	"github.com/sidekick-edu/sidekick-bridge/internal/broker"
)

// StatusResponse is the response of GET /status.
type StatusResponse struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Bridge        bridge.Snapshot `json:"bridge"`
	Program       ProgramResponse `json:"program"`
	WebSocket     WSMetrics       `json:"websocket"`

	// Broker is present only when the bridge manages a local broker.
	Broker *broker.Stats `json:"broker,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleStatus returns bridge, program and process status in one response.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Bridge:  s.bridge.Snapshot(),
		Program: s.programResponse(false),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}
	if s.broker != nil {
		stats := s.broker.Stats()
		resp.Broker = &stats
	}

	writeJSON(w, http.StatusOK, resp)
}
