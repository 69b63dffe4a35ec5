package exposition

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/procstats"
)

const microsPerSecond = 1e6

// Collector reads a fresh snapshot from its provider on every scrape.
type Collector struct {
	provider procstats.Provider
	app      config.AppConfig

	uptime     *prometheus.Desc
	rss        *prometheus.Desc
	heap       *prometheus.Desc
	cpu        *prometheus.Desc
	goroutines *prometheus.Desc
	buildInfo  *prometheus.Desc
}

// NewCollector returns a Collector for p labelled with app's identity.
func NewCollector(p procstats.Provider, app config.AppConfig) *Collector {
	return &Collector{
		provider: p,
		app:      app,
		uptime: prometheus.NewDesc("process_uptime_seconds",
			"Seconds since the process started.", nil, nil),
		rss: prometheus.NewDesc("process_resident_memory_bytes",
			"Resident memory size in bytes.", nil, nil),
		heap: prometheus.NewDesc("process_heap_bytes",
			"Go heap size in bytes by state.", []string{"state"}, nil),
		cpu: prometheus.NewDesc("process_cpu_seconds_total",
			"Total CPU time spent by mode.", []string{"mode"}, nil),
		goroutines: prometheus.NewDesc("process_goroutines",
			"Number of live goroutines.", nil, nil),
		buildInfo: prometheus.NewDesc("sampleapp_build_info",
			"Build and environment identity of the running service.",
			[]string{"version", "build", "commit", "environment"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.uptime
	ch <- c.rss
	ch <- c.heap
	ch <- c.cpu
	ch <- c.goroutines
	ch <- c.buildInfo
}

// Collect implements prometheus.Collector. A provider error is reported as an
// invalid metric, which makes Gather fail.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, err := c.provider.Snapshot(context.Background())
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.uptime, err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, snap.UptimeSeconds())
	ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(snap.Memory.RSS))
	ch <- prometheus.MustNewConstMetric(c.heap, prometheus.GaugeValue, float64(snap.Memory.HeapUsed), "used")
	ch <- prometheus.MustNewConstMetric(c.heap, prometheus.GaugeValue, float64(snap.Memory.HeapTotal), "total")
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.CounterValue, float64(snap.CPU.User)/microsPerSecond, "user")
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.CounterValue, float64(snap.CPU.System)/microsPerSecond, "system")
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(snap.Goroutines))
	ch <- prometheus.MustNewConstMetric(c.buildInfo, prometheus.GaugeValue, 1,
		c.app.Version, c.app.Build, c.app.Commit, c.app.Environment)
}
