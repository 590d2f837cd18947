// Package metrics records delivery outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

const namespace = "postal_relay"

// Metrics holds the delivery collectors and the registry they live on.
type Metrics struct {
	registry     *prometheus.Registry
	sendsTotal   *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Total number of delivery attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Delivery attempt duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sends_in_flight",
				Help:      "Number of delivery attempts currently in progress",
			},
		),
	}

	m.registry.MustRegister(
		m.sendsTotal,
		m.sendDuration,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Wrap returns a provider that records every Send made through p.
func (m *Metrics) Wrap(p provider.Provider) provider.Provider {
	return &instrumented{next: p, metrics: m}
}

func (m *Metrics) observe(name string, err error, elapsed time.Duration) {
	m.sendsTotal.WithLabelValues(name, provider.Kind(err)).Inc()
	m.sendDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

type instrumented struct {
	next    provider.Provider
	metrics *Metrics
}

func (i *instrumented) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	i.metrics.inFlight.Inc()
	defer i.metrics.inFlight.Dec()

	start := time.Now()
	res, err := i.next.Send(ctx, msg)
	i.metrics.observe(i.next.Name(), err, time.Since(start))
	return res, err
}

func (i *instrumented) Name() string {
	return i.next.Name()
}
