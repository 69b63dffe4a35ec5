package api

import (
	"github.com/devsecops/sampleapp/server/internal/alerts"
	"github.com/devsecops/sampleapp/server/internal/procstats"
)

// RootResponse is the payload for GET /.
type RootResponse struct {
	Message     string       `json:"message"`
	Description string       `json:"description"`
	Endpoints   EndpointsDoc `json:"endpoints"`
	Security    SecurityDoc  `json:"security"`
}

// EndpointsDoc maps endpoint names to their paths.
type EndpointsDoc struct {
	Health  string `json:"health"`
	Metrics string `json:"metrics"`
	Info    string `json:"info"`
}

// SecurityDoc summarises the security posture of the build pipeline.
type SecurityDoc struct {
	Scanning string   `json:"scanning"` // "enabled" | "disabled"
	Tools    []string `json:"tools"`
	Gates    string   `json:"gates"` // "enforced" | "advisory"
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"` // ISO-8601, millisecond precision
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// InfoResponse is the payload for GET /info.
type InfoResponse struct {
	Application string                `json:"application"`
	Version     string                `json:"version"`
	Build       string                `json:"build"`
	Commit      string                `json:"commit"`
	Environment string                `json:"environment"`
	Uptime      float64               `json:"uptime"` // seconds
	Memory      procstats.MemoryUsage `json:"memory"`
	Platform    string                `json:"platform"`
	// RuntimeVersion keeps the "nodeVersion" key existing clients read.
	RuntimeVersion string `json:"nodeVersion"`
}

// MetricsResponse is the JSON payload for GET /metrics.
type MetricsResponse struct {
	Uptime    float64               `json:"uptime"` // seconds
	Memory    procstats.MemoryUsage `json:"memory"`
	CPU       procstats.CPUUsage    `json:"cpu"`
	Timestamp string                `json:"timestamp"`
}

// AlertsResponse is the payload for GET /alerts.
type AlertsResponse struct {
	Firing int             `json:"firing"`
	Alerts []*alerts.Alert `json:"alerts"` // firing, then resolved within the hour; newest first
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error              string   `json:"error"`
	Message            string   `json:"message"`
	AvailableEndpoints []string `json:"availableEndpoints,omitempty"`
}
