package monitoring

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// ResourceThresholds gates when the system-resource checker reports
// Degraded or Unhealthy.
type ResourceThresholds struct {
	CPUDegradedPct  float64
	CPUUnhealthyPct float64
	MemDegradedPct  float64
	MemUnhealthyPct float64
}

// DefaultResourceThresholds mirrors a conservative single-host deployment.
func DefaultResourceThresholds() ResourceThresholds {
	return ResourceThresholds{CPUDegradedPct: 80, CPUUnhealthyPct: 95, MemDegradedPct: 85, MemUnhealthyPct: 97}
}

// NewResourceChecker builds a ComponentChecker that samples host CPU and
// memory utilization via gopsutil and maps them to a ComponentStatus.
func NewResourceChecker(thresholds ResourceThresholds) ComponentChecker {
	return func(ctx context.Context) ComponentReport {
		cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return ComponentReport{Name: "system_resources", Status: StatusDegraded, Message: fmt.Sprintf("cpu sample failed: %v", err)}
		}
		vmem, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return ComponentReport{Name: "system_resources", Status: StatusDegraded, Message: fmt.Sprintf("mem sample failed: %v", err)}
		}

		cpuPct := 0.0
		if len(cpuPercents) > 0 {
			cpuPct = cpuPercents[0]
		}
		memPct := vmem.UsedPercent

		status := StatusHealthy
		if cpuPct >= thresholds.CPUUnhealthyPct || memPct >= thresholds.MemUnhealthyPct {
			status = StatusUnhealthy
		} else if cpuPct >= thresholds.CPUDegradedPct || memPct >= thresholds.MemDegradedPct {
			status = StatusDegraded
		}

		return ComponentReport{
			Name:   "system_resources",
			Status: status,
			Details: map[string]any{
				"cpu_pct": cpuPct,
				"mem_pct": memPct,
			},
		}
	}
}
