// Package readiness answers "can this process take traffic?", as opposed to
// GET /health which only answers "is the process running?".
//
// A Checker runs named CheckFuncs concurrently, each bounded by a timeout, and
// folds the outcomes into a Report. GET /ready serves the report with 200 when
// every check passes and 503 otherwise.
//
// Built-in checks:
//   - RSSBudget: resident memory stays under a share of host memory
//   - GoroutineCeiling: goroutine count stays under a limit
//   - NoFiringAlerts: no alert of a given severity is firing
//
// GRPCSync mirrors the Checker into a grpc.health.v1 server so orchestrators
// speaking the gRPC health protocol see the same answer.
package readiness
