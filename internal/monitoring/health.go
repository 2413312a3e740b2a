package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check response
type HealthCheck struct {
	Status          HealthStatus     `json:"status"`
	Version         string           `json:"version"`
	Uptime          int64            `json:"uptime"`
	UptimeHuman     string           `json:"uptime_human"`
	ActiveDownloads int              `json:"active_downloads"`
	MemoryUsageMB   uint64           `json:"memory_usage_mb"`
	DatabaseStatus  string           `json:"database_status"`
	Checks          map[string]Check `json:"checks"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Pinger is a provider client that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker performs health checks against the durable store and the
// registered lookup providers.
type HealthChecker struct {
	version   string
	startTime time.Time
	db        *sql.DB

	mu        sync.Mutex
	providers map[string]Pinger
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db *sql.DB) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		db:        db,
		providers: make(map[string]Pinger),
	}
}

// RegisterProvider adds a lookup provider to the health report.
func (h *HealthChecker) RegisterProvider(name string, p Pinger) {
	h.mu.Lock()
	h.providers[name] = p
	h.mu.Unlock()
}

// Check performs all health checks and returns the result. Provider
// failures degrade rather than fail the report: the core still works with
// one provider down.
func (h *HealthChecker) Check(ctx context.Context, activeDownloads int) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	dbCheck := h.checkDatabase(ctx)
	checks["database"] = dbCheck
	if dbCheck.Status != "healthy" {
		overallStatus = HealthStatusUnhealthy
	}

	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	if memCheck.Status == "unhealthy" {
		overallStatus = HealthStatusUnhealthy
	} else if memCheck.Status == "degraded" && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	h.mu.Lock()
	providers := make(map[string]Pinger, len(h.providers))
	for name, p := range h.providers {
		providers[name] = p
	}
	h.mu.Unlock()

	for name, p := range providers {
		check := h.checkProvider(ctx, p)
		checks["provider_"+name] = check
		if check.Status != "healthy" && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "connected"
	if dbCheck.Status != "healthy" {
		dbStatus = "disconnected"
	}

	return &HealthCheck{
		Status:          overallStatus,
		Version:         h.version,
		Uptime:          int64(uptime.Seconds()),
		UptimeHuman:     formatDuration(uptime),
		ActiveDownloads: activeDownloads,
		MemoryUsageMB:   m.Alloc / 1024 / 1024,
		DatabaseStatus:  dbStatus,
		Checks:          checks,
		Timestamp:       time.Now(),
	}
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase(ctx context.Context) Check {
	if h.db == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database connection not initialized",
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(pingCtx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Database connection is healthy",
	}
}

// checkProvider checks lookup-provider reachability
func (h *HealthChecker) checkProvider(ctx context.Context, p Pinger) Check {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := p.Ping(pingCtx); err != nil {
		return Check{
			Status:  "degraded",
			Message: "Provider unreachable: " + err.Error(),
		}
	}
	return Check{
		Status:  "healthy",
		Message: "Provider reachable",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
