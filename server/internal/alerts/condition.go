package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/devsecops/sampleapp/server/internal/procstats"
)

// fields maps a condition field name to its value in a snapshot.
var fields = map[string]func(procstats.Snapshot) float64{
	"rss_bytes":          func(s procstats.Snapshot) float64 { return float64(s.Memory.RSS) },
	"heap_used_bytes":    func(s procstats.Snapshot) float64 { return float64(s.Memory.HeapUsed) },
	"heap_total_bytes":   func(s procstats.Snapshot) float64 { return float64(s.Memory.HeapTotal) },
	"sys_bytes":          func(s procstats.Snapshot) float64 { return float64(s.Memory.Sys) },
	"goroutines":         func(s procstats.Snapshot) float64 { return float64(s.Goroutines) },
	"cpu_user_seconds":   func(s procstats.Snapshot) float64 { return float64(s.CPU.User) / 1e6 },
	"cpu_system_seconds": func(s procstats.Snapshot) float64 { return float64(s.CPU.System) / 1e6 },
	"uptime_seconds":     func(s procstats.Snapshot) float64 { return s.UptimeSeconds() },
}

// condition is a parsed "field operator value" expression.
type condition struct {
	field     string
	op        string
	threshold float64
}

// parseCondition parses expressions such as:
//
//	rss_bytes > 5e8
//	heap_used_bytes >= 268435456
//	goroutines > 1000
//	cpu_user_seconds > 3600
//	uptime_seconds < 60
func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if _, ok := fields[field]; !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold: %w", expr, err)
	}
	return condition{field: field, op: op, threshold: threshold}, nil
}

// eval returns whether c holds for snap and the value it was tested on.
func (c condition) eval(snap procstats.Snapshot) (bool, float64) {
	v := fields[c.field](snap)
	return compareFloat(v, c.op, c.threshold), v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
