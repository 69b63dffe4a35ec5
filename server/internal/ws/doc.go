// Package ws implements the WebSocket stream of process vitals.
//
// Hub manages a set of connected clients and broadcasts the latest sampled
// snapshot to all of them on a fixed interval.
//
// New(src, interval) creates a Hub. src is usually the *sampler.Sampler.
// Hub.Run(ctx) starts the broadcast ticker; it blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the retained
// history and the latest sample immediately on connect, then streams updates
// on each tick.
//
// Message formats sent to clients:
//
//	{"event": "history", "data": [ /* GET /metrics documents, oldest first */ ]}
//	{"event": "metrics", "data": { /* same schema as GET /metrics */ }}
//
// No message is sent until the first sample exists. The upgrader accepts all
// origins; apply origin restrictions at the reverse proxy. The server mounts
// the hub at /ws/metrics.
package ws
