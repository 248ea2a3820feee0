package paird

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// telemetry holds the Prometheus instruments for a Service. Each
// Service carries its own registry so tests can run several services in
// one process without collector collisions.
type telemetry struct {
	registry *prometheus.Registry

	pairRequests    *prometheus.CounterVec
	restoreRequests *prometheus.CounterVec
	reconnects      prometheus.Counter
	archiveFailures prometheus.Counter
	activeFlows     prometheus.Gauge
}

func newTelemetry() *telemetry {
	reg := prometheus.NewRegistry()
	t := &telemetry{
		registry: reg,
		pairRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paird",
			Name:      "pair_requests_total",
			Help:      "Pairing requests by outcome.",
		}, []string{"outcome"}),
		restoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paird",
			Name:      "restore_requests_total",
			Help:      "Session restore requests by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paird",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after transient disconnects.",
		}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paird",
			Name:      "archive_failures_total",
			Help:      "Upload pipeline failures, partial or total.",
		}),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paird",
			Name:      "active_flows",
			Help:      "Pairing flows currently in progress (0 or 1).",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		t.pairRequests,
		t.restoreRequests,
		t.reconnects,
		t.archiveFailures,
		t.activeFlows,
	)
	return t
}

func (t *telemetry) observePair(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.pairRequests.WithLabelValues(outcome).Inc()
}

func (t *telemetry) observeRestore(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.restoreRequests.WithLabelValues(outcome).Inc()
}

// MetricsHandler exposes the service registry for Prometheus scrapes.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.telemetry.registry, promhttp.HandlerOpts{})
}
