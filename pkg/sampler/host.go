package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/HatiCode/vmpredict/pkg/features"
)

const mib = 1024 * 1024

// hostReaders are the raw counter sources behind Host.
type hostReaders struct {
	cpuPercent func(ctx context.Context, interval time.Duration) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
	diskBytes  func(ctx context.Context) (uint64, error)
	netBytes   func(ctx context.Context) (uint64, error)
	now        func() time.Time
}

// Host samples the live utilization of the local machine.
//
// CPU is averaged over CPUInterval; disk I/O (MB/s, reads plus writes) and
// network bandwidth (Mbps, sent plus received) are rates computed from the
// counter delta since the previous sample, so the first sample reports zero
// for both.
type Host struct {
	// CPUInterval is the CPU measurement window (default 1s).
	CPUInterval time.Duration

	readers hostReaders

	mu       sync.Mutex
	primed   bool
	lastAt   time.Time
	lastDisk uint64
	lastNet  uint64
}

// NewHost creates a host sampler backed by gopsutil.
func NewHost(cpuInterval time.Duration) *Host {
	if cpuInterval <= 0 {
		cpuInterval = time.Second
	}
	return &Host{
		CPUInterval: cpuInterval,
		readers: hostReaders{
			cpuPercent: readCPUPercent,
			memPercent: readMemPercent,
			diskBytes:  readDiskBytes,
			netBytes:   readNetBytes,
			now:        time.Now,
		},
	}
}

func (h *Host) Name() string { return "host" }

func (h *Host) Sample(ctx context.Context) (features.Vector, error) {
	cpuPct, err := h.readers.cpuPercent(ctx, h.CPUInterval)
	if err != nil {
		return features.Vector{}, fmt.Errorf("read cpu: %w", err)
	}
	memPct, err := h.readers.memPercent(ctx)
	if err != nil {
		return features.Vector{}, fmt.Errorf("read memory: %w", err)
	}
	diskTotal, err := h.readers.diskBytes(ctx)
	if err != nil {
		return features.Vector{}, fmt.Errorf("read disk counters: %w", err)
	}
	netTotal, err := h.readers.netBytes(ctx)
	if err != nil {
		return features.Vector{}, fmt.Errorf("read network counters: %w", err)
	}
	now := h.readers.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	var diskRate, netRate float64
	if h.primed {
		if elapsed := now.Sub(h.lastAt).Seconds(); elapsed > 0 {
			diskRate = counterDelta(h.lastDisk, diskTotal) / mib / elapsed
			netRate = counterDelta(h.lastNet, netTotal) / mib * 8 / elapsed
		}
	}
	h.primed = true
	h.lastAt = now
	h.lastDisk = diskTotal
	h.lastNet = netTotal

	return features.Vector{
		CPULoad:          cpuPct,
		MemoryUsage:      memPct,
		DiskIO:           diskRate,
		NetworkBandwidth: netRate,
	}, nil
}

// counterDelta treats a decreasing counter (reset or device removal) as no traffic.
func counterDelta(prev, cur uint64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur - prev)
}

func readCPUPercent(ctx context.Context, interval time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu statistics available")
	}
	return pct[0], nil
}

func readMemPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func readDiskBytes(ctx context.Context) (uint64, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range counters {
		total += c.ReadBytes + c.WriteBytes
	}
	return total, nil
}

func readNetBytes(ctx context.Context) (uint64, error) {
	counters, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range counters {
		total += c.BytesSent + c.BytesRecv
	}
	return total, nil
}
