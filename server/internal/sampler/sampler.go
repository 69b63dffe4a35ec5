package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devsecops/sampleapp/server/internal/procstats"
)

// Sampler is a thread-safe ring of recent snapshots.
type Sampler struct {
	provider procstats.Provider
	interval time.Duration

	mu    sync.RWMutex
	ring  []procstats.Snapshot
	next  int // index the next sample is written to
	count int
	subs  []func(procstats.Snapshot)
}

// New creates a Sampler keeping at most history snapshots (minimum 1).
func New(p procstats.Provider, interval time.Duration, history int) *Sampler {
	if history < 1 {
		history = 1
	}
	return &Sampler{
		provider: p,
		interval: interval,
		ring:     make([]procstats.Snapshot, history),
	}
}

// Subscribe registers fn to be called with every new sample, on the sampling
// goroutine. fn must not block.
func (s *Sampler) Subscribe(fn func(procstats.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Sample takes one snapshot, records it and notifies subscribers.
func (s *Sampler) Sample(ctx context.Context) error {
	snap, err := s.provider.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("sampler: snapshot: %w", err)
	}

	s.mu.Lock()
	s.ring[s.next] = snap
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	subs := append(([]func(procstats.Snapshot))(nil), s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// Latest returns the most recent sample, and false if none was taken yet.
func (s *Sampler) Latest() (procstats.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return procstats.Snapshot{}, false
	}
	i := (s.next - 1 + len(s.ring)) % len(s.ring)
	return s.ring[i], true
}

// History returns the retained samples, oldest first.
func (s *Sampler) History() []procstats.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]procstats.Snapshot, 0, s.count)
	start := (s.next - s.count + len(s.ring)) % len(s.ring)
	for i := 0; i < s.count; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Run samples immediately and then every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	if err := s.Sample(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("sampler: sample failed", "err", err)
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Sample(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("sampler: sample failed", "err", err)
			}
		}
	}
}
