package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/procstats"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against process snapshots and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	appName  string

	mu       sync.Mutex
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts

	client    *http.Client
	retryBase time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// New creates an Engine from the alert configuration. Rules whose condition
// does not parse are rejected. An Engine with no rules is valid and Evaluate
// becomes a no-op.
func New(cfg config.AlertsConfig, appName string) (*Engine, error) {
	e := &Engine{
		webhooks:  cfg.Webhooks,
		appName:   appName,
		active:    make(map[string]*Alert),
		lastFire:  make(map[string]time.Time),
		client:    &http.Client{Timeout: deliveryTimeout},
		retryBase: backoffInitial,
		now:       time.Now,
	}
	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

// Evaluate tests all rules against snap. Rules that fire are recorded and
// delivered asynchronously; firing rules whose condition no longer holds are
// resolved.
func (e *Engine) Evaluate(snap procstats.Snapshot) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, r := range e.rules {
		fires, value := r.cond.eval(snap)

		e.mu.Lock()
		var notify *Alert
		if fires {
			_, firing := e.active[r.Name]
			if !firing && now.Sub(e.lastFire[r.Name]) > r.Cooldown {
				a := &Alert{
					ID:       uuid.NewString(),
					RuleName: r.Name,
					Severity: r.Severity,
					Value:    value,
					Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)",
						r.Severity, r.Name, e.appName, r.Condition, value),
					FiredAt: now,
					State:   StateFiring,
				}
				e.active[r.Name] = a
				e.lastFire[r.Name] = now
				cp := *a
				notify = &cp
			}
		} else if a, ok := e.active[r.Name]; ok {
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, r.Name)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
		}
		e.mu.Unlock()

		if notify == nil {
			continue
		}
		if notify.State == StateFiring {
			slog.Warn("alert fired", "rule", r.Name, "value", value, "severity", r.Severity)
		} else {
			slog.Info("alert resolved", "rule", r.Name)
		}
		e.wg.Add(1)
		go func(a *Alert) {
			defer e.wg.Done()
			e.deliver(a)
		}(notify)
	}
}

// Firing returns how many alerts of severity are currently firing. An empty
// severity counts all of them.
func (e *Engine) Firing(severity string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, a := range e.active {
		if severity == "" || a.Severity == severity {
			n++
		}
	}
	return n
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
