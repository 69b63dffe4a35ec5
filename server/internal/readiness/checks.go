package readiness

import (
	"context"
	"fmt"

	"github.com/devsecops/sampleapp/server/internal/procstats"
)

// AlertSource reports how many alerts of a severity are currently firing.
type AlertSource interface {
	Firing(severity string) int
}

// RSSBudget fails when resident memory exceeds maxPercent of hostMemory.
// With hostMemory == 0 (unknown host) the check always passes.
func RSSBudget(p procstats.Provider, hostMemory uint64, maxPercent float64) CheckFunc {
	return func(ctx context.Context) error {
		if hostMemory == 0 {
			return nil
		}
		snap, err := p.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("read process stats: %w", err)
		}
		pct := float64(snap.Memory.RSS) / float64(hostMemory) * 100
		if pct > maxPercent {
			return fmt.Errorf("resident memory at %.1f%% of host, limit %.1f%%", pct, maxPercent)
		}
		return nil
	}
}

// GoroutineCeiling fails when the goroutine count exceeds max. max <= 0
// disables the check.
func GoroutineCeiling(p procstats.Provider, max int) CheckFunc {
	return func(ctx context.Context) error {
		if max <= 0 {
			return nil
		}
		snap, err := p.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("read process stats: %w", err)
		}
		if snap.Goroutines > max {
			return fmt.Errorf("%d goroutines, limit %d", snap.Goroutines, max)
		}
		return nil
	}
}

// NoFiringAlerts fails while any alert of severity is firing.
func NoFiringAlerts(src AlertSource, severity string) CheckFunc {
	return func(context.Context) error {
		if n := src.Firing(severity); n > 0 {
			return fmt.Errorf("%d %s alert(s) firing", n, severity)
		}
		return nil
	}
}
