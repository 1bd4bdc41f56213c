package server

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// DiskUsageStat represents disk usage for a specific mount point
type DiskUsageStat struct {
	MountPoint string `json:"mount_point"`
	Used       uint64 `json:"disk_used"`
	Total      uint64 `json:"disk_total"`
}

// HostStats is the load of the host the run is exercising.
type HostStats struct {
	CPUUsage    []float64       `json:"cpu_usage"`
	MemoryUsage uint64          `json:"memory_used"`
	MemoryTotal uint64          `json:"memory_total"`
	Uptime      uint64          `json:"uptime"`
	DiskUsage   []DiskUsageStat `json:"disk_usage"`
}

// HostStatsHandler reports CPU, memory and the usage of the mounts holding
// the work directories. Stats that cannot be read are reported as zero.
func (s *Server) HostStatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := HostStats{CPUUsage: []float64{0}}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.log.WithError(err).Debug("error getting CPU usage")
	} else {
		stats.CPUUsage = pct
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.log.WithError(err).Debug("error getting memory stats")
	} else {
		stats.MemoryUsage, stats.MemoryTotal = vm.Used, vm.Total
	}
	if info, err := host.InfoWithContext(ctx); err != nil {
		s.log.WithError(err).Debug("error getting host stats")
	} else {
		stats.Uptime = info.Uptime
	}

	for _, mount := range s.mounts {
		u, err := disk.UsageWithContext(ctx, mount)
		if err != nil {
			s.log.WithError(err).WithField("mount", mount).Debug("error getting disk stats")
			continue
		}
		stats.DiskUsage = append(stats.DiskUsage, DiskUsageStat{MountPoint: mount, Used: u.Used, Total: u.Total})
	}
	JSONResponse(w, stats, http.StatusOK)
}
