package readiness

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the grpc.health.v1 service name reported alongside the
// overall ("") status.
const ServiceName = "sampleapp"

// GRPCSync keeps a grpc.health.v1 server in step with a Checker.
type GRPCSync struct {
	checker  *Checker
	srv      *health.Server
	interval time.Duration
}

// NewGRPCSync returns a GRPCSync that refreshes every interval. Both services
// start out NOT_SERVING until the first Sync.
func NewGRPCSync(c *Checker, interval time.Duration) *GRPCSync {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCSync{checker: c, srv: srv, interval: interval}
}

// Server returns the health server to register on a grpc.Server.
func (g *GRPCSync) Server() *health.Server {
	return g.srv
}

// Sync runs the checks once and publishes the result.
func (g *GRPCSync) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if rep := g.checker.Check(ctx); !rep.Ready() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		slog.Debug("readiness: not ready", "checks", rep.Checks)
	}
	g.srv.SetServingStatus("", st)
	g.srv.SetServingStatus(ServiceName, st)
	return st
}

// Run syncs immediately and then every interval until ctx is cancelled, at
// which point every service is marked NOT_SERVING for good.
func (g *GRPCSync) Run(ctx context.Context) {
	g.Sync(ctx)

	t := time.NewTicker(g.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			g.srv.Shutdown()
			return
		case <-t.C:
			g.Sync(ctx)
		}
	}
}
