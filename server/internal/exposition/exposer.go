package exposition

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/devsecops/sampleapp/server/internal/config"
	"github.com/devsecops/sampleapp/server/internal/procstats"
)

// Exposer gathers vitals from a private registry and encodes them.
type Exposer struct {
	reg *prometheus.Registry
}

// New returns an Exposer whose registry holds a Collector for p.
func New(p procstats.Provider, app config.AppConfig) *Exposer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(p, app))
	return &Exposer{reg: reg}
}

// Gather returns the current metric families.
func (e *Exposer) Gather() ([]*dto.MetricFamily, error) {
	mfs, err := e.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("exposition: gather: %w", err)
	}
	return mfs, nil
}

// Encode writes mfs to w in format.
func Encode(w io.Writer, format expfmt.Format, mfs []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("exposition: encode %s: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("exposition: close encoder: %w", err)
		}
	}
	return nil
}

// Negotiate picks the exposition format for r.
func Negotiate(r *http.Request) expfmt.Format {
	return expfmt.Negotiate(r.Header)
}

// Wanted reports whether r asks for an exposition format rather than JSON:
// ?format=prometheus, or an Accept header naming a Prometheus media type
// without also naming application/json.
func Wanted(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "prometheus":
		return true
	case "json":
		return false
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return false
	}
	return strings.Contains(accept, "text/plain") ||
		strings.Contains(accept, "application/openmetrics-text") ||
		strings.Contains(accept, "application/vnd.google.protobuf")
}
