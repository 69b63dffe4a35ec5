package procstats

import (
	"context"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbnjay/memory"
)

// MemoryUsage is the memory readout of a Snapshot, in bytes.
type MemoryUsage struct {
	RSS        uint64 `json:"rss"`
	HeapTotal  uint64 `json:"heapTotal"`
	HeapUsed   uint64 `json:"heapUsed"`
	External   uint64 `json:"external"`
	StackInUse uint64 `json:"stackInUse"`
	Sys        uint64 `json:"sys"`
}

// CPUUsage is cumulative CPU time consumed by the process, in microseconds.
type CPUUsage struct {
	User   int64 `json:"user"`
	System int64 `json:"system"`
}

// Snapshot is a point-in-time readout of process resource usage.
type Snapshot struct {
	Uptime     time.Duration
	Memory     MemoryUsage
	CPU        CPUUsage
	Goroutines int
	Timestamp  time.Time
}

// UptimeSeconds returns Uptime as fractional seconds.
func (s Snapshot) UptimeSeconds() float64 {
	return s.Uptime.Seconds()
}

// Provider returns a fresh Snapshot on every call.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Snapshot, error)

// Snapshot calls f(ctx).
func (f ProviderFunc) Snapshot(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// Static is a Provider that returns the same Snapshot, or Err when set.
type Static struct {
	Snap Snapshot
	Err  error
}

// Snapshot returns s.Snap or s.Err.
func (s Static) Snapshot(context.Context) (Snapshot, error) {
	if s.Err != nil {
		return Snapshot{}, s.Err
	}
	return s.Snap, nil
}

// Runtime reads vitals of the current process.
type Runtime struct {
	clock clock.Clock
	start time.Time
}

// NewRuntime returns a Runtime whose uptime is measured from now on clk.
// A nil clk uses the wall clock.
func NewRuntime(clk clock.Clock) *Runtime {
	if clk == nil {
		clk = clock.New()
	}
	return &Runtime{clock: clk, start: clk.Now()}
}

// Snapshot reads the current process vitals. It only fails when ctx is done.
func (r *Runtime) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := r.clock.Now()
	uptime := now.Sub(r.start)
	if uptime < 0 {
		uptime = 0
	}
	user, system := cpuTimes()

	return Snapshot{
		Uptime: uptime,
		Memory: MemoryUsage{
			RSS:        residentMemory(),
			HeapTotal:  ms.HeapSys,
			HeapUsed:   ms.HeapAlloc,
			External:   ms.Sys - ms.HeapSys,
			StackInUse: ms.StackInuse,
			Sys:        ms.Sys,
		},
		CPU: CPUUsage{
			User:   user.Microseconds(),
			System: system.Microseconds(),
		},
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  now.UTC(),
	}, nil
}

// HostMemory returns the total physical memory of the host in bytes, or 0
// when it cannot be determined.
func HostMemory() uint64 {
	return memory.TotalMemory()
}
