package readiness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devsecops/sampleapp/server/internal/procstats"
)

func pass(context.Context) error { return nil }

func fail(context.Context) error { return errors.New("database unreachable") }

type fakeAlerts map[string]int

func (f fakeAlerts) Firing(severity string) int { return f[severity] }

func TestChecker_EmptyIsReady(t *testing.T) {
	rep := New(time.Second).Check(context.Background())
	if !rep.Ready() {
		t.Errorf("status: got %q, want ready", rep.Status)
	}
	if len(rep.Checks) != 0 {
		t.Errorf("checks: got %d, want 0", len(rep.Checks))
	}
}

func TestChecker_OneFailureMakesNotReady(t *testing.T) {
	c := New(time.Second)
	c.Register("memory", pass)
	c.Register("database", fail)

	rep := c.Check(context.Background())
	if rep.Status != StatusNotReady {
		t.Fatalf("status: got %q, want not_ready", rep.Status)
	}
	if rep.Checks["memory"].Status != "pass" {
		t.Errorf("memory: got %+v, want pass", rep.Checks["memory"])
	}
	db := rep.Checks["database"]
	if db.Status != "fail" || db.Error != "database unreachable" {
		t.Errorf("database: got %+v", db)
	}
}

func TestChecker_FailureDoesNotCancelSiblings(t *testing.T) {
	c := New(time.Second)
	c.Register("database", fail)
	c.Register("cache", func(ctx context.Context) error {
		select {
		case <-time.After(30 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	rep := c.Check(context.Background())
	if got := rep.Checks["cache"]; got.Status != "pass" {
		t.Errorf("slow sibling of a failing check: got %+v, want pass", got)
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	rep := c.Check(context.Background())
	res := rep.Checks["slow"]
	if res.Status != "fail" || !strings.Contains(res.Error, "timed out") {
		t.Errorf("slow: got %+v, want timeout failure", res)
	}
}

func TestChecker_PanicIsFailure(t *testing.T) {
	c := New(time.Second)
	c.Register("broken", func(context.Context) error { panic("nil map") })

	res := c.Check(context.Background()).Checks["broken"]
	if res.Status != "fail" || !strings.Contains(res.Error, "panicked") {
		t.Errorf("broken: got %+v, want panic failure", res)
	}
}

func TestChecker_RegisterReplaces(t *testing.T) {
	c := New(time.Second)
	c.Register("dep", fail)
	c.Register("dep", pass)

	if names := c.Names(); len(names) != 1 {
		t.Fatalf("names: got %v, want one entry", names)
	}
	if !c.Check(context.Background()).Ready() {
		t.Error("expected ready after replacing failing check")
	}
}

func TestRSSBudget(t *testing.T) {
	p := procstats.Static{Snap: procstats.Snapshot{Memory: procstats.MemoryUsage{RSS: 600}}}

	if err := RSSBudget(p, 1000, 90)(context.Background()); err != nil {
		t.Errorf("60%% of host under 90%% limit: got %v", err)
	}
	if err := RSSBudget(p, 1000, 50)(context.Background()); err == nil {
		t.Error("60% of host over 50% limit: got nil")
	}
	if err := RSSBudget(p, 0, 1)(context.Background()); err != nil {
		t.Errorf("unknown host memory: got %v, want nil", err)
	}
	if err := RSSBudget(procstats.Static{Err: errors.New("x")}, 1000, 90)(context.Background()); err == nil {
		t.Error("provider error: got nil")
	}
}

func TestGoroutineCeiling(t *testing.T) {
	p := procstats.Static{Snap: procstats.Snapshot{Goroutines: 150}}
	if err := GoroutineCeiling(p, 200)(context.Background()); err != nil {
		t.Errorf("under limit: got %v", err)
	}
	if err := GoroutineCeiling(p, 100)(context.Background()); err == nil {
		t.Error("over limit: got nil")
	}
	if err := GoroutineCeiling(p, 0)(context.Background()); err != nil {
		t.Errorf("disabled: got %v", err)
	}
}

func TestNoFiringAlerts(t *testing.T) {
	if err := NoFiringAlerts(fakeAlerts{"warning": 2}, "critical")(context.Background()); err != nil {
		t.Errorf("only warnings firing: got %v", err)
	}
	if err := NoFiringAlerts(fakeAlerts{"critical": 1}, "critical")(context.Background()); err == nil {
		t.Error("critical firing: got nil")
	}
}

func grpcStatus(t *testing.T, g *GRPCSync, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := g.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestGRPCSync_FollowsChecker(t *testing.T) {
	c := New(time.Second)
	g := NewGRPCSync(c, time.Hour)

	if got := grpcStatus(t, g, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before first sync: got %v, want NOT_SERVING", got)
	}

	if got := g.Sync(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Sync with no checks: got %v, want SERVING", got)
	}
	if got := grpcStatus(t, g, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("%s: got %v, want SERVING", ServiceName, got)
	}

	c.Register("database", fail)
	g.Sync(context.Background())
	if got := grpcStatus(t, g, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after failing check: got %v, want NOT_SERVING", got)
	}
}

func TestGRPCSync_RunStopsOnCancel(t *testing.T) {
	g := NewGRPCSync(New(time.Second), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := grpcStatus(t, g, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after shutdown: got %v, want NOT_SERVING", got)
	}
}
