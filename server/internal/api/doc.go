// Package api implements the Introspection Service: unauthenticated,
// read-only HTTP endpoints describing the service and its process.
//
// New(opts) returns a Handler that serves:
//
//	GET /          welcome message, endpoint map, security-posture summary (constant)
//	GET /health    liveness: status "healthy", timestamp, version, environment
//	GET /info      identity + uptime, memory, platform, runtime version
//	GET /metrics   uptime, memory, cpu, timestamp; Prometheus formats on request
//	GET /ready     readiness report; 503 while any check fails
//	GET /alerts    firing and recently resolved alerts
//	/debug/pprof/  optional
//
// Paths match exactly, with no cleaning or redirects. Options.Mounts adds
// more exact paths, such as the WebSocket stream. Every other path gets a
// 404 document listing the four public endpoints. SetSecurity swaps the
// security summary on GET / during a config reload.
// Non-GET methods on known paths get 405. A provider error or handler panic
// is logged and answered with a generic 500 document; the cause is never
// sent to the client.
//
// Snapshots are taken fresh on every request through the injected
// procstats.Provider. Timestamps are UTC ISO-8601 with milliseconds.
package api
