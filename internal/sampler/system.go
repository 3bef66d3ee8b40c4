package sampler

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemUsage is a whole-host snapshot surfaced on the HTTP API.
type SystemUsage struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	Load1         float64   `json:"load1"`
	Timestamp     time.Time `json:"timestamp"`
}

// SampleSystem reads host-level CPU, memory, disk and load figures.
// Individual read failures leave the corresponding field at zero.
func SampleSystem() SystemUsage {
	out := SystemUsage{Timestamp: time.Now()}
	if pcts, err := cpu.Percent(DefaultCPUInterval, false); err == nil && len(pcts) > 0 {
		out.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		out.DiskPercent = du.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		out.Load1 = avg.Load1
	}
	return out
}
