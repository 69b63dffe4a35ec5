package readiness

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report statuses.
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"

	checkPass = "pass"
	checkFail = "fail"
)

// CheckFunc returns nil when its dependency or resource is healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status     string  `json:"status"` // "pass" | "fail"
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Report is the payload for GET /ready.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Ready reports whether every check passed.
func (r Report) Ready() bool {
	return r.Status == StatusReady
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Checker holds the registered readiness checks. It is safe for concurrent use.
type Checker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

// New returns an empty Checker; each check run is bounded by timeout.
func New(timeout time.Duration) *Checker {
	return &Checker{timeout: timeout}
}

// Register adds a check. Registering an existing name replaces it.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].fn = fn
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, fn: fn})
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.checks))
	for _, nc := range c.checks {
		out = append(out, nc.name)
	}
	sort.Strings(out)
	return out
}

// Check runs every registered check concurrently and returns the combined
// Report. A Checker with no checks is ready.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	// A plain Group: one failing check must not cancel the others.
	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			results[i] = c.run(ctx, nc)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // run never returns an error

	rep := Report{Status: StatusReady, Checks: make(map[string]CheckResult, len(checks))}
	for i, nc := range checks {
		rep.Checks[nc.name] = results[i]
		if results[i].Status != checkPass {
			rep.Status = StatusNotReady
		}
	}
	return rep
}

func (c *Checker) run(ctx context.Context, nc namedCheck) (res CheckResult) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		res.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("check panicked: %v", rec)
			}
		}()
		done <- nc.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return CheckResult{Status: checkFail, Error: err.Error()}
		}
		return CheckResult{Status: checkPass}
	case <-ctx.Done():
		return CheckResult{Status: checkFail, Error: fmt.Sprintf("check timed out: %v", ctx.Err())}
	}
}
