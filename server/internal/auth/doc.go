// Package auth guards the operator-facing surfaces of sampleapp with a shared
// API key.
//
// APIKeyInterceptor and APIKeyStreamInterceptor protect the gRPC health
// service: Check goes through the unary interceptor, Watch through the stream
// interceptor. HTTP wraps an http.Handler with the same rule and is used for
// the /debug/pprof/ routes.
//
// When mode != "apikey" or key == "", every call passes through, which keeps
// local development friction-free. Otherwise a missing or wrong key is
// rejected with codes.Unauthenticated (gRPC) or 401 (HTTP). The four public
// JSON endpoints are never guarded.
package auth
