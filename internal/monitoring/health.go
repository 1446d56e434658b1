package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
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
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	Uptime        int64            `json:"uptime"`
	UptimeHuman   string           `json:"uptime_human"`
	UniqueTracks  int              `json:"unique_tracks"`
	MissingFiles  int              `json:"missing_files"`
	MemoryUsageMB uint64           `json:"memory_usage_mb"`
	Checks        map[string]Check `json:"checks"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	db        *sql.DB
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db *sql.DB) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		db:        db,
	}
}

// Check performs all health checks and returns the result.
// uniqueTracks and missingFiles come from the content store's integrity pass.
func (h *HealthChecker) Check(uniqueTracks, missingFiles int) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	// Check history database connectivity
	dbCheck := h.checkDatabase()
	checks["database"] = dbCheck
	if dbCheck.Status != "healthy" {
		overallStatus = HealthStatusUnhealthy
	}

	// Check memory usage
	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	if memCheck.Status == "unhealthy" {
		overallStatus = HealthStatusUnhealthy
	} else if memCheck.Status == "degraded" && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	// Check storage integrity
	storageCheck := h.checkStorage(uniqueTracks, missingFiles)
	checks["storage"] = storageCheck
	if storageCheck.Status == "degraded" && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	// Calculate uptime
	uptime := time.Since(h.startTime)
	uptimeSeconds := int64(uptime.Seconds())

	// Get memory stats
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &HealthCheck{
		Status:        overallStatus,
		Version:       h.version,
		Uptime:        uptimeSeconds,
		UptimeHuman:   formatUptime(uptime),
		UniqueTracks:  uniqueTracks,
		MissingFiles:  missingFiles,
		MemoryUsageMB: m.Alloc / 1024 / 1024,
		Checks:        checks,
		Timestamp:     time.Now(),
	}
}

// checkDatabase verifies the sync history database is reachable
func (h *HealthChecker) checkDatabase() Check {
	if h.db == nil {
		return Check{Status: "unhealthy", Message: "database not initialized"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return Check{Status: "unhealthy", Message: fmt.Sprintf("ping failed: %v", err)}
	}

	return Check{Status: "healthy"}
}

// checkMemory flags excessive heap usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	allocMB := m.Alloc / 1024 / 1024

	switch {
	case allocMB > 2048:
		return Check{Status: "unhealthy", Message: fmt.Sprintf("memory usage too high: %d MB", allocMB)}
	case allocMB > 1024:
		return Check{Status: "degraded", Message: fmt.Sprintf("memory usage elevated: %d MB", allocMB)}
	default:
		return Check{Status: "healthy"}
	}
}

// checkStorage flags indexed tracks whose backing file is gone
func (h *HealthChecker) checkStorage(uniqueTracks, missingFiles int) Check {
	if missingFiles > 0 {
		return Check{
			Status:  "degraded",
			Message: fmt.Sprintf("%d of %d indexed tracks missing from disk", missingFiles, uniqueTracks),
		}
	}
	return Check{Status: "healthy"}
}

// formatUptime formats a duration as a human-readable string
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
