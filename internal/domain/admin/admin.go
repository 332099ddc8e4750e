// Package admin defines the staff-only operational views.
package admin

import "time"

// SystemStats is the host and process snapshot served to staff users.
type SystemStats struct {
	Hostname        string    `json:"hostname"`
	Platform        string    `json:"platform"`
	PlatformVersion string    `json:"platform_version"`
	UptimeSeconds   uint64    `json:"uptime_seconds"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryTotal     uint64    `json:"memory_total"`
	MemoryUsed      uint64    `json:"memory_used"`
	MemoryPercent   float64   `json:"memory_percent"`
	Goroutines      int       `json:"goroutines"`
	GoVersion       string    `json:"go_version"`
	CollectedAt     time.Time `json:"collected_at"`
}
