package exposition

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/procstats"
)

func fixedProvider() procstats.Static {
	return procstats.Static{Snap: procstats.Snapshot{
		Uptime: 42 * time.Second,
		Memory: procstats.MemoryUsage{
			RSS:       50_000_000,
			HeapTotal: 8_000_000,
			HeapUsed:  4_000_000,
		},
		CPU:        procstats.CPUUsage{User: 1_500_000, System: 250_000},
		Goroutines: 12,
	}}
}

func testApp() config.AppConfig {
	return config.AppConfig{Version: "1.0.0", Build: "local", Commit: "unknown", Environment: "development"}
}

// parse decodes a text exposition into metric families.
func parse(t *testing.T, b []byte) map[string]*dto.MetricFamily {
	t.Helper()
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, b)
	}
	return mfs
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestExposer_TextRoundTrip(t *testing.T) {
	e := New(fixedProvider(), testApp())
	mfs, err := e.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, expfmt.NewFormat(expfmt.TypeTextPlain), mfs); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := parse(t, buf.Bytes())

	if v := got["process_uptime_seconds"].GetMetric()[0].GetGauge().GetValue(); v != 42 {
		t.Errorf("uptime: got %v, want 42", v)
	}
	if v := got["process_resident_memory_bytes"].GetMetric()[0].GetGauge().GetValue(); v != 50_000_000 {
		t.Errorf("rss: got %v, want 5e7", v)
	}
	if v := got["process_goroutines"].GetMetric()[0].GetGauge().GetValue(); v != 12 {
		t.Errorf("goroutines: got %v, want 12", v)
	}

	cpu := got["process_cpu_seconds_total"]
	if cpu.GetType() != dto.MetricType_COUNTER {
		t.Errorf("cpu type: got %v, want COUNTER", cpu.GetType())
	}
	for _, m := range cpu.GetMetric() {
		want := map[string]float64{"user": 1.5, "system": 0.25}[labelValue(m, "mode")]
		if v := m.GetCounter().GetValue(); v != want {
			t.Errorf("cpu %s: got %v, want %v", labelValue(m, "mode"), v, want)
		}
	}

	heap := got["process_heap_bytes"]
	if len(heap.GetMetric()) != 2 {
		t.Fatalf("heap series: got %d, want 2", len(heap.GetMetric()))
	}

	info := got["sampleapp_build_info"].GetMetric()[0]
	if labelValue(info, "version") != "1.0.0" || labelValue(info, "environment") != "development" {
		t.Errorf("build_info labels: got %v", info.GetLabel())
	}
	if info.GetGauge().GetValue() != 1 {
		t.Errorf("build_info value: got %v, want 1", info.GetGauge().GetValue())
	}
}

func TestExposer_ProviderErrorFailsGather(t *testing.T) {
	e := New(procstats.Static{Err: errors.New("procfs unavailable")}, testApp())
	if _, err := e.Gather(); err == nil {
		t.Fatal("expected gather error, got nil")
	}
}

func TestWanted(t *testing.T) {
	cases := []struct {
		name   string
		target string
		accept string
		want   bool
	}{
		{"default json", "/metrics", "", false},
		{"curl wildcard", "/metrics", "*/*", false},
		{"prometheus scrape", "/metrics", "application/openmetrics-text;version=1.0.0,text/plain;version=0.0.4;q=0.5,*/*;q=0.1", true},
		{"plain text", "/metrics", "text/plain", true},
		{"json wins", "/metrics", "application/json, text/plain", false},
		{"query prometheus", "/metrics?format=prometheus", "", true},
		{"query json overrides accept", "/metrics?format=json", "text/plain", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.accept != "" {
				r.Header.Set("Accept", tc.accept)
			}
			if got := Wanted(r); got != tc.want {
				t.Errorf("Wanted: got %v, want %v", got, tc.want)
			}
		})
	}
}
