package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/farmra-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/farmra-core/internal/infrastructure/mqtt"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptimeSeconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	History       HistoryMetrics  `json:"history"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
	Auth          AuthMetrics     `json:"auth"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memoryAllocMb"`
	MemoryTotalMB float64 `json:"memoryTotalMb"`
	NumGC         uint32  `json:"numGc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int   `json:"connectedClients"`
	DroppedEvents    int64 `json:"droppedEvents"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled bool `json:"enabled"`
	mqtt.Stats
}

// HistoryMetrics contains reading-history writer statistics.
type HistoryMetrics struct {
	Enabled bool `json:"enabled"`
	influxdb.Stats
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	Unassigned int            `json:"unassigned"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"openConnections"`
	InUse           int   `json:"inUse"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"waitCount"`
}

// AuthMetrics describes the credential mode and rate limiter state.
type AuthMetrics struct {
	Mode             string `json:"mode"`
	RateLimited      bool   `json:"rateLimited"`
	TrackedClients   int    `json:"trackedClients"`
	PendingWSTickets int    `json:"pendingWsTickets"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := s.now()
	metrics := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
		Auth: AuthMetrics{
			Mode:             s.auth.Mode(),
			RateLimited:      s.limiter != nil,
			PendingWSTickets: s.tickets.size(),
		},
	}

	if s.limiter != nil {
		metrics.Auth.TrackedClients = s.limiter.size()
	}

	// MQTT metrics (if available)
	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Stats: s.mqtt.Stats()}
	}
	if s.history != nil {
		metrics.History = HistoryMetrics{Enabled: true, Stats: s.history.Stats()}
	}

	// Device registry stats
	regStats := s.devices.Registry().GetStats()
	metrics.Devices = DeviceMetrics{
		Total:      regStats.TotalDevices,
		ByStatus:   make(map[string]int, len(regStats.ByStatus)),
		Unassigned: regStats.Unassigned,
	}
	for status, count := range regStats.ByStatus {
		metrics.Devices.ByStatus[string(status)] = count
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
