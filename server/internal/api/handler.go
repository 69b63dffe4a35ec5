package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"path"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/devsecops/sampleapp/server/internal/alerts"
	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/exposition"
	"github.com/devsecops/sampleapp/server/internal/procstats"
	"github.com/devsecops/sampleapp/server/internal/readiness"
)

// TimestampLayout renders UTC instants as ISO-8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const (
	rootMessage     = "🚀 DevSecOps Sample Application"
	rootDescription = "A sample application demonstrating DevSecOps CI/CD pipeline with security scanning"
	notFoundMessage = "The requested endpoint does not exist"
	faultMessage    = "Something went wrong!"
)

// availableEndpoints is the fixed list returned with every 404. It is copied
// into each response.
var availableEndpoints = [...]string{"/", "/health", "/info", "/metrics"}

const pprofPrefix = "/debug/pprof/"

// AlertLister reports current and recently resolved alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Options configures the Introspection Service handler.
type Options struct {
	App      config.AppConfig
	Security config.SecurityConfig

	// Provider supplies a fresh process snapshot per request. Required.
	Provider procstats.Provider

	// Readiness backs GET /ready. Nil means no checks: always ready.
	Readiness *readiness.Checker

	// Alerts backs GET /alerts. Nil serves an empty list.
	Alerts AlertLister

	// Mounts adds handlers at exact paths, served without compression and
	// without the GET check (e.g. the WebSocket stream).
	Mounts map[string]http.Handler

	// Clock stamps /health responses. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives fault and access logs. Nil uses slog.Default().
	Logger *slog.Logger

	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool

	// PprofGuard, when set, wraps the pprof routes (see auth.HTTP).
	PprofGuard func(http.Handler) http.Handler

	// Compress enables gzip for clients that accept it.
	Compress bool
}

// Handler serves the introspection endpoints. Routes match the request path
// exactly; nothing is cleaned or redirected, so every unknown path, however
// spelled, gets the 404 document.
type Handler struct {
	app       config.AppConfig
	provider  procstats.Provider
	exposer   *exposition.Exposer
	readiness *readiness.Checker
	alerts    AlertLister
	clock     clock.Clock
	log       *slog.Logger

	root   atomic.Pointer[RootResponse]
	routes map[string]http.HandlerFunc
	mounts map[string]http.Handler
	pprof  http.Handler

	chain http.Handler
}

// New creates a Handler and registers all routes. The Handler includes
// request-id, access-log, recovery and optional gzip middleware.
func New(opts Options) *Handler {
	if opts.Provider == nil {
		panic("api.New: Provider is nil")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Readiness == nil {
		opts.Readiness = readiness.New(0)
	}

	h := &Handler{
		app:       opts.App,
		provider:  opts.Provider,
		exposer:   exposition.New(opts.Provider, opts.App),
		readiness: opts.Readiness,
		alerts:    opts.Alerts,
		clock:     opts.Clock,
		log:       opts.Logger,
		mounts:    opts.Mounts,
	}
	h.SetSecurity(opts.Security)

	h.routes = map[string]http.HandlerFunc{
		"/":        h.getRoot,
		"/health":  h.health,
		"/info":    h.info,
		"/metrics": h.metrics,
		"/ready":   h.ready,
		"/alerts":  h.listAlerts,
	}
	if opts.Pprof {
		h.pprof = pprofHandler(opts.PprofGuard)
	}

	var routed http.Handler = http.HandlerFunc(h.route)
	if opts.Compress {
		routed = compress(routed)
	}
	h.chain = withRequestID(withAccessLog(h.withRecovery(h.dispatch(routed)), h.log))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.chain.ServeHTTP(w, r)
}

// SetSecurity swaps the security-posture summary published on GET /. Safe to
// call while serving.
func (h *Handler) SetSecurity(sec config.SecurityConfig) {
	root := buildRoot(sec)
	h.root.Store(&root)
}

// dispatch sends mounted paths straight to their handler and everything else
// to next.
func (h *Handler) dispatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m, ok := h.mounts[r.URL.Path]; ok {
			m.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// route looks the path up verbatim.
func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if fn, ok := h.routes[p]; ok {
		fn(w, r)
		return
	}
	if h.pprof != nil && strings.HasPrefix(p, pprofPrefix) && canonical(p) {
		h.pprof.ServeHTTP(w, r)
		return
	}
	h.notFound(w, r)
}

// canonical reports whether p is already clean. A trailing slash is allowed.
func canonical(p string) bool {
	return path.Clean(p+"x") == p+"x"
}

func pprofHandler(guard func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pprofPrefix, pprof.Index)
	mux.HandleFunc(pprofPrefix+"cmdline", pprof.Cmdline)
	mux.HandleFunc(pprofPrefix+"profile", pprof.Profile)
	mux.HandleFunc(pprofPrefix+"symbol", pprof.Symbol)
	mux.HandleFunc(pprofPrefix+"trace", pprof.Trace)
	if guard == nil {
		return mux
	}
	return guard(mux)
}

// buildRoot assembles the constant GET / document.
func buildRoot(sec config.SecurityConfig) RootResponse {
	scanning, gates := "disabled", "advisory"
	if sec.Scanning {
		scanning = "enabled"
	}
	if sec.GatesEnforced {
		gates = "enforced"
	}
	tools := append([]string{}, sec.Tools...)
	return RootResponse{
		Message:     rootMessage,
		Description: rootDescription,
		Endpoints: EndpointsDoc{
			Health:  "/health",
			Metrics: "/metrics",
			Info:    "/info",
		},
		Security: SecurityDoc{Scanning: scanning, Tools: tools, Gates: gates},
	}
}

// --- route handlers ---------------------------------------------------------

// getRoot returns GET /.
func (h *Handler) getRoot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, h.root.Load())
}

// health returns GET /health. It reports liveness only and always succeeds;
// dependency readiness is GET /ready.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   FormatTimestamp(h.clock.Now()),
		Version:     h.app.Version,
		Environment: h.app.Environment,
	})
}

// info returns GET /info: identity merged with a fresh snapshot.
func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	snap, err := h.provider.Snapshot(r.Context())
	if err != nil {
		h.fault(w, r, fmt.Errorf("info: %w", err))
		return
	}
	jsonResp(w, http.StatusOK, InfoResponse{
		Application:    h.app.Name,
		Version:        h.app.Version,
		Build:          h.app.Build,
		Commit:         h.app.Commit,
		Environment:    h.app.Environment,
		Uptime:         snap.UptimeSeconds(),
		Memory:         snap.Memory,
		Platform:       runtime.GOOS,
		RuntimeVersion: runtime.Version(),
	})
}

// metrics returns GET /metrics as JSON, or in a Prometheus exposition format
// when the client asks for one.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if exposition.Wanted(r) {
		h.exposition(w, r)
		return
	}
	snap, err := h.provider.Snapshot(r.Context())
	if err != nil {
		h.fault(w, r, fmt.Errorf("metrics: %w", err))
		return
	}
	jsonResp(w, http.StatusOK, MetricsFromSnapshot(snap))
}

func (h *Handler) exposition(w http.ResponseWriter, r *http.Request) {
	mfs, err := h.exposer.Gather()
	if err != nil {
		h.fault(w, r, err)
		return
	}
	format := exposition.Negotiate(r)
	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)
	if err := exposition.Encode(w, format, mfs); err != nil {
		// Headers are gone; all that is left is to record it.
		h.log.ErrorContext(r.Context(), "metrics: write exposition", "err", err,
			"request_id", RequestID(r.Context()))
	}
}

// ready returns GET /ready: 200 when every readiness check passes, else 503.
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	rep := h.readiness.Check(r.Context())
	code := http.StatusOK
	if !rep.Ready() {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, rep)
}

// listAlerts returns GET /alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	resp := AlertsResponse{Alerts: []*alerts.Alert{}}
	if h.alerts != nil {
		if active := h.alerts.Active(); len(active) > 0 {
			resp.Alerts = active
		}
	}
	for _, a := range resp.Alerts {
		if a.State == alerts.StateFiring {
			resp.Firing++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// notFound answers any unknown path with the same document.
func (h *Handler) notFound(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusNotFound, ErrorResponse{
		Error:              "Not Found",
		Message:            notFoundMessage,
		AvailableEndpoints: append([]string(nil), availableEndpoints[:]...),
	})
}

// fault logs err for operators and answers with a generic 500. err never
// reaches the client.
func (h *Handler) fault(w http.ResponseWriter, r *http.Request, err error) {
	h.log.ErrorContext(r.Context(), "request failed",
		"err", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestID(r.Context()),
	)
	jsonResp(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "Internal Server Error",
		Message: faultMessage,
	})
}

// --- helpers ----------------------------------------------------------------

// MetricsFromSnapshot maps a snapshot to the GET /metrics JSON document.
func MetricsFromSnapshot(s procstats.Snapshot) MetricsResponse {
	return MetricsResponse{
		Uptime:    s.UptimeSeconds(),
		Memory:    s.Memory,
		CPU:       s.CPU,
		Timestamp: FormatTimestamp(s.Timestamp),
	}
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// allowGet writes a 405 and returns false for anything but GET and HEAD.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	jsonResp(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:   "Method Not Allowed",
		Message: fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path),
	})
	return false
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
