// Package exposition renders process vitals in the Prometheus exposition
// formats, so GET /metrics can be scraped as well as read as JSON.
//
// Collector adapts a procstats.Provider to prometheus.Collector. Exposer owns a
// private registry holding that collector and encodes gathered families with
// the format negotiated from the request's Accept header (text 0.0.4,
// OpenMetrics or protobuf delimited).
//
// Metrics:
//
//	process_uptime_seconds                 gauge
//	process_resident_memory_bytes          gauge
//	process_heap_bytes{state}              gauge   state = used | total
//	process_cpu_seconds_total{mode}        counter mode = user | system
//	process_goroutines                     gauge
//	sampleapp_build_info{version,build,commit,environment}  gauge, always 1
package exposition
