package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is the body of GET /stats
type Stats struct {
	Uptime     float64           `json:"uptime_seconds"`
	Hubs       []domain.HubStats `json:"hubs"`
	Services   []string          `json:"services"`
	Goroutines int               `json:"goroutines"`
	Memory     *MemoryStats      `json:"memory,omitempty"`
}

// MemoryStats describes host memory
type MemoryStats struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// Stats collects server statistics
func (s *Server) Stats() Stats {
	stats := Stats{
		Uptime:     time.Since(s.startTime).Seconds(),
		Hubs:       make([]domain.HubStats, 0, len(s.hubs)),
		Services:   make([]string, 0),
		Goroutines: runtime.NumGoroutine(),
	}

	for _, h := range s.hubs {
		stats.Hubs = append(stats.Hubs, h.Stats())
	}
	for _, table := range s.dispatcher.Tables() {
		stats.Services = append(stats.Services, table.Service())
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory = &MemoryStats{
			Total:       vm.Total,
			Used:        vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	} else {
		s.logger.Debug("failed to read host memory", "error", err)
	}

	return stats
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.logger.Error("failed to write stats", "error", err)
	}
}
