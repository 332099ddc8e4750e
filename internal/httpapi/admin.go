package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/onevisitor/onevisitor/internal/domain/admin"
	"github.com/onevisitor/onevisitor/internal/httputil"
)

// systemStats reports host and process health. Collection failures degrade to
// zero values rather than failing the request.
func (h *handler) systemStats(w http.ResponseWriter, r *http.Request) {
	stats := admin.SystemStats{
		Goroutines:  runtime.NumGoroutine(),
		GoVersion:   runtime.Version(),
		CollectedAt: time.Now().UTC(),
	}

	if info, err := host.InfoWithContext(r.Context()); err == nil {
		stats.Hostname = info.Hostname
		stats.Platform = info.Platform
		stats.PlatformVersion = info.PlatformVersion
		stats.UptimeSeconds = info.Uptime
	} else {
		h.log.WithError(err).Warn("host info unavailable")
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		stats.MemoryTotal = vm.Total
		stats.MemoryUsed = vm.Used
		stats.MemoryPercent = vm.UsedPercent
	}

	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *handler) adminListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Users.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
