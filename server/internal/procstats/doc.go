// Package procstats reads point-in-time process vitals.
//
// Provider is the capability handlers depend on. Runtime is the live
// implementation: heap figures come from runtime.ReadMemStats, CPU times from
// getrusage(2), resident memory from /proc on Linux (peak RSS elsewhere), and
// uptime from the injected clock. Static and ProviderFunc exist for tests.
package procstats
