// Package telemetry exposes Prometheus metrics for the HTTP surface and the
// dashboard aggregations.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mnhs"

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the telemetry settings.
type Config struct {
	Enabled        bool
	ServiceVersion string
	// RuntimeCollectors adds the Go and process collectors to the registry.
	RuntimeCollectors bool
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider owns a private registry so tests and multiple servers in one
// process never collide on the global default registry.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	inflight       prometheus.Gauge

	aggregationLatency *prometheus.HistogramVec
	aggregationErrors  *prometheus.CounterVec
	writes             *prometheus.CounterVec
}

func NewProvider(cfg Config) *Provider {
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.0.0"
	}
	reg := prometheus.NewRegistry()
	p := &Provider{
		cfg:      cfg,
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		aggregationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time spent computing one dashboard section.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"dashboard", "section"}),
		aggregationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_errors_total",
			Help:      "Dashboard sections that failed.",
		}, []string{"dashboard", "section"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(p.requests, p.requestLatency, p.inflight,
		p.aggregationLatency, p.aggregationErrors, p.writes)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Constant 1, labelled with the running version.",
		ConstLabels: prometheus.Labels{"version": cfg.ServiceVersion},
	}, func() float64 { return 1 }))
	if cfg.RuntimeCollectors {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return p
}

// Registry returns the provider's registry, for registering extra collectors.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// ObserveAggregation records the latency of one dashboard section. It is safe
// to call on a nil Provider.
func (p *Provider) ObserveAggregation(dashboard, section string, d time.Duration, err error) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	p.aggregationLatency.WithLabelValues(dashboard, section).Observe(d.Seconds())
	if err != nil {
		p.aggregationErrors.WithLabelValues(dashboard, section).Inc()
	}
}

// ObserveWrite counts a write path outcome such as "created" or "conflict".
// It is safe to call on a nil Provider.
func (p *Provider) ObserveWrite(operation, outcome string) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	p.writes.WithLabelValues(operation, outcome).Inc()
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics. The route label is the registered path template, so ids in the URL
// don't multiply series.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.Enabled {
				return next(c)
			}

			p.inflight.Inc()
			start := time.Now()

			err := next(c)

			p.inflight.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			p.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			p.requestLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}
