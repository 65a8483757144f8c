package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector exposes a Collector's counters as Prometheus metrics.
// Values are read at scrape time, so there is a single source of truth for both sinks.
type PrometheusCollector struct {
	c *Collector

	received  *prometheus.Desc
	processed *prometheus.Desc
	published *prometheus.Desc
	errors    *prometheus.Desc
	latency   *prometheus.Desc
	custom    *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector wraps c for registration with a Prometheus registry.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	labels := prometheus.Labels{"service": c.ServiceName(), "instance_id": c.InstanceID()}
	return &PrometheusCollector{
		c: c,
		received: prometheus.NewDesc("orderflow_messages_received_total",
			"Messages read from the inbound stream.", nil, labels),
		processed: prometheus.NewDesc("orderflow_messages_processed_total",
			"Messages fully processed.", nil, labels),
		published: prometheus.NewDesc("orderflow_messages_published_total",
			"Messages published or persisted downstream.", nil, labels),
		errors: prometheus.NewDesc("orderflow_processing_errors_total",
			"Processing errors.", nil, labels),
		latency: prometheus.NewDesc("orderflow_processing_latency_seconds_avg",
			"Average processing latency since start.", nil, labels),
		custom: prometheus.NewDesc("orderflow_custom_total",
			"Service specific counters.", []string{"name"}, labels),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.received
	ch <- p.processed
	ch <- p.published
	ch <- p.errors
	ch <- p.latency
	ch <- p.custom
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.c.GetSnapshot()
	ch <- prometheus.MustNewConstMetric(p.received, prometheus.CounterValue, float64(snap.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(p.processed, prometheus.CounterValue, float64(snap.MessagesProcessed))
	ch <- prometheus.MustNewConstMetric(p.published, prometheus.CounterValue, float64(snap.MessagesPublished))
	ch <- prometheus.MustNewConstMetric(p.errors, prometheus.CounterValue, float64(snap.ProcessingErrors))
	ch <- prometheus.MustNewConstMetric(p.latency, prometheus.GaugeValue, snap.AvgProcessingLatencyNs/float64(time.Second))
	for _, name := range p.c.customNames() {
		ch <- prometheus.MustNewConstMetric(p.custom, prometheus.CounterValue, float64(snap.CustomCounters[name]), name)
	}
}

// NewRegistry returns a registry holding the collector plus the Go runtime and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewPrometheusCollector(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr disables the endpoint.
func Serve(ctx context.Context, addr string, c *Collector) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(c), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	slog.Info("Serving Prometheus metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
