package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/kr1s57/ipreputation/internal/config"
)

var startTime = time.Now()

// Pinger checks a backing dependency
type Pinger func(ctx context.Context) error

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Uptime      string            `json:"uptime"`
	Environment string            `json:"environment"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks"`
	System      SystemInfo        `json:"system"`
}

// SystemInfo represents system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
}

// HealthCheck returns a handler for health check endpoint
func HealthCheck(cfg *config.Config, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		checks := map[string]string{
			"api": "ok",
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		for name, ping := range deps {
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
			} else {
				checks[name] = "ok"
			}
		}

		status := "healthy"
		code := http.StatusOK
		for _, check := range checks {
			if check != "ok" {
				status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}

		JSONResponse(w, code, HealthResponse{
			Status:      status,
			Version:     config.Version,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Environment: cfg.App.Env,
			Timestamp:   time.Now().UTC(),
			Checks:      checks,
			System: SystemInfo{
				GoVersion:    runtime.Version(),
				NumCPU:       runtime.NumCPU(),
				NumGoroutine: runtime.NumGoroutine(),
				MemAllocMB:   m.Alloc / 1024 / 1024,
			},
		})
	}
}
