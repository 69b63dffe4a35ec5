// Package sampler polls a procstats.Provider on a fixed interval and keeps the
// latest snapshot plus a bounded history. Request handlers never read from
// here; they take fresh snapshots. The sampler feeds the background consumers
// (alerts engine, WebSocket stream) that need a steady cadence instead.
package sampler
