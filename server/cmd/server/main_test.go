package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/devsecops/sampleapp/server/internal/api"
	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/procstats"
	"github.com/devsecops/sampleapp/server/internal/readiness"
)

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("json format: %v (%s)", err, buf.String())
	}
	if m["msg"] != "hello" || m["k"] != "v" {
		t.Errorf("json record: got %v", m)
	}

	buf.Reset()
	newLogger(&buf, "text", slog.LevelInfo).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text record: got %q", buf.String())
	}
}

func TestNewLogger_LevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	log := newLogger(&buf, "json", level)

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	level.Set(slog.LevelDebug)
	log.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("debug not logged after level change: %q", buf.String())
	}
}

func TestShutdown_IdleServer(t *testing.T) {
	srv := &http.Server{Handler: http.NotFoundHandler()}
	if err := shutdown(srv, nil, time.Second); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

// blockingServer serves a handler that parks until release is closed or the
// connection goes away.
func blockingServer(t *testing.T) (srv *http.Server, url string, entered <-chan struct{}, release chan struct{}) {
	t.Helper()
	in := make(chan struct{}, 1)
	release = make(chan struct{})
	srv = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in <- struct{}{}
		select {
		case <-release:
			io.WriteString(w, "done") //nolint:errcheck
		case <-r.Context().Done():
		}
	})}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		srv.Close()
	})
	return srv, "http://" + lis.Addr().String(), in, release
}

type result struct {
	status int
	err    error
}

func getAsync(url string) <-chan result {
	out := make(chan result, 1)
	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			out <- result{err: err}
			return
		}
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		out <- result{status: resp.StatusCode}
	}()
	return out
}

func TestShutdown_InFlightRequestCompletes(t *testing.T) {
	srv, url, entered, release := blockingServer(t)
	res := getAsync(url)
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- shutdown(srv, nil, 3*time.Second) }()

	select {
	case err := <-stopped:
		t.Fatalf("shutdown returned %v while a request was in flight", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	if r := <-res; r.err != nil || r.status != http.StatusOK {
		t.Errorf("in-flight request: got status %d err %v, want 200", r.status, r.err)
	}
	if err := <-stopped; err != nil {
		t.Errorf("shutdown: got %v, want nil", err)
	}
}

func TestShutdown_OverrunIsCutOffWithoutError(t *testing.T) {
	srv, url, entered, _ := blockingServer(t)
	res := getAsync(url)
	<-entered

	start := time.Now()
	if err := shutdown(srv, nil, 100*time.Millisecond); err != nil {
		t.Errorf("shutdown: got %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("shutdown took %v, want about the 100ms deadline", elapsed)
	}
	if r := <-res; r.err == nil {
		t.Errorf("overrunning request: got status %d, want a cut connection", r.status)
	}
}

func TestServeGRPC_StoppedBeforeServeIsClean(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	srv.GracefulStop()
	if err := serveGRPC(srv, lis); err != nil {
		t.Errorf("serveGRPC after stop: got %v, want nil", err)
	}
}

type noAlerts struct{}

func (noAlerts) Firing(string) int { return 0 }

func TestRuntimeKnobs_Apply(t *testing.T) {
	clearOverrides(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	provider := procstats.Static{Snap: procstats.Snapshot{Goroutines: 50}}
	checker := readiness.New(time.Second)
	handler := api.New(api.Options{App: cfg.App, Security: cfg.Security, Provider: provider, Readiness: checker})
	level := new(slog.LevelVar)
	k := &runtimeKnobs{
		level:    level,
		handler:  handler,
		checker:  checker,
		provider: provider,
		alerts:   noAlerts{},
	}
	k.registerChecks(cfg.Readiness)
	if rep := checker.Check(context.Background()); !rep.Ready() {
		t.Fatalf("initial readiness: got %+v, want ready", rep)
	}

	next := *cfg
	next.Log.Level = "debug"
	next.Security.Scanning = false
	next.Readiness.MaxGoroutines = 10
	k.apply(&next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", level.Level())
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	var root api.RootResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &root); err != nil {
		t.Fatalf("decode root: %v", err)
	}
	if root.Security.Scanning != "disabled" {
		t.Errorf("scanning after reload: got %q, want disabled", root.Security.Scanning)
	}
	rep := checker.Check(context.Background())
	if rep.Ready() || rep.Checks["goroutines"].Status != "fail" {
		t.Errorf("readiness after reload: got %+v, want goroutines failing", rep)
	}
	if n := len(checker.Names()); n != 3 {
		t.Errorf("checks after reload: got %d, want 3 (replaced, not added)", n)
	}
}

func clearOverrides(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvPort, config.EnvGRPCPort, config.EnvAppName, config.EnvVersion,
		config.EnvEnvironment, config.EnvBuild, config.EnvCommit,
		config.EnvShutdownTimeout, config.EnvLogLevel,
	} {
		t.Setenv(k, "")
	}
}

func TestRun_StopsCleanlyOnCancel(t *testing.T) {
	clearOverrides(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Server.Port = 0 // any free port
	cfg.Server.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, "", procstats.NewRuntime(nil), new(slog.LevelVar))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
