package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/metorial/agentsched/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Facts reports the host facts returned by the info endpoint and the
// resource usage returned by the status endpoint.
type Facts struct {
	hostname string
	ip       string

	// cpuSample is how long the status report samples CPU usage for.
	cpuSample time.Duration
}

func NewFacts(ip string) (*Facts, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("get hostname: %w", err)
	}

	return &Facts{
		hostname:  hostname,
		ip:        ip,
		cpuSample: time.Second,
	}, nil
}

func (f *Facts) Hostname() string {
	return f.hostname
}

// Info collects static host facts. Facts that cannot be read are reported
// as "Unknown" rather than failing the whole query.
func (f *Facts) Info(ctx context.Context) *models.AgentInfo {
	info := &models.AgentInfo{
		Hostname: f.hostname,
		IP:       f.ip,
		OS:       "Unknown",
		Arch:     "Unknown",
		CPU:      "Unknown",
		RAM:      "Unknown",
		Status:   string(models.AgentOnline),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.OS = strings.TrimSpace(titleCase(hi.OS) + " " + hi.KernelVersion)
		if hi.KernelArch != "" {
			info.Arch = hi.KernelArch
		}
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 && cpus[0].ModelName != "" {
		info.CPU = cpus[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.RAM = fmt.Sprintf("%dGB", vm.Total/(1<<30))
	}

	return info
}

// Status samples current resource usage. running is the number of scripts
// currently executing.
func (f *Facts) Status(ctx context.Context, running int) (*models.AgentStatusReport, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get uptime: %w", err)
	}

	cpuPercent, err := cpu.PercentWithContext(ctx, f.cpuSample, false)
	if err != nil {
		return nil, fmt.Errorf("get cpu percent: %w", err)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get memory usage: %w", err)
	}

	diskInfo, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("get disk usage: %w", err)
	}

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	return &models.AgentStatusReport{
		Status:       string(models.AgentOnline),
		Hostname:     f.hostname,
		Uptime:       uptime,
		CPUUsage:     cpuPct,
		MemoryUsage:  memInfo.UsedPercent,
		DiskUsage:    diskInfo.UsedPercent,
		RunningTasks: running,
		Timestamp:    time.Now().Format(time.RFC3339),
	}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
