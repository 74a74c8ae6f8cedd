package pluginmodule

import (
	"context"
	"errors"
	"fmt"
	"time"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a resource snapshot of an external plugin process
type ProcessStats struct {
	PID           int32     `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	RSSBytes      uint64    `json:"rss_bytes"`
	MemoryPercent float64   `json:"memory_percent"`
	Threads       int32     `json:"threads"`
	StartedAt     time.Time `json:"started_at"`
}

var errProcessExited = errors.New("plugin process has exited")

// CollectProcessStats samples the process behind a go-plugin client
func CollectProcessStats(ctx context.Context, client *goplugin.Client) (*ProcessStats, error) {
	if client == nil || client.Exited() {
		return nil, errProcessExited
	}
	reattach := client.ReattachConfig()
	if reattach == nil || reattach.Pid == 0 {
		return nil, errProcessExited
	}

	proc, err := process.NewProcessWithContext(ctx, int32(reattach.Pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", reattach.Pid, err)
	}

	stats := &ProcessStats{PID: proc.Pid}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = threads
	}
	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		stats.StartedAt = time.UnixMilli(created)
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return stats, nil
	}
	stats.RSSBytes = memInfo.RSS
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		stats.MemoryPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
	}
	return stats, nil
}
