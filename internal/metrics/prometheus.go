// Package metrics implements the request, metering and billing collectors
// for the Prometheus and CloudWatch backends.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"decodr/internal/types"
)

// Prometheus registers its collectors on a private registry so tests can
// build independent instances.
type Prometheus struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisionsTotal  *prometheus.CounterVec
	planTransitions *prometheus.CounterVec
}

func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distribution",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metering_decisions_total",
				Help:      "Metering decisions by outcome",
			},
			[]string{"outcome"},
		),
		planTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billing_plan_transitions_total",
				Help:      "Applied billing plan changes by target plan",
			},
			[]string{"plan"},
		),
	}
}

func (p *Prometheus) RecordRequest(method, route, status string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, route, status).Inc()
	p.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *Prometheus) RecordDecision(_ context.Context, outcome types.DecisionOutcome) {
	p.decisionsTotal.WithLabelValues(string(outcome)).Inc()
}

func (p *Prometheus) RecordPlanTransition(_ context.Context, plan types.Plan) {
	p.planTransitions.WithLabelValues(string(plan)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}
