package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestProvider() *Provider {
	return NewProvider(Config{Enabled: true, ServiceVersion: "test"})
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/items/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/items/"+id, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}

	got := testutil.ToFloat64(p.requests.WithLabelValues(http.MethodGet, "/api/items/:id", "200"))
	if got != 3 {
		t.Errorf("expected 3 requests on the route template, got %v", got)
	}
	if n := testutil.CollectAndCount(p.requests); n != 1 {
		t.Errorf("expected a single series, got %d", n)
	}
}

func TestMetricsMiddleware_RecordsHTTPErrorStatus(t *testing.T) {
	p := newTestProvider()

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad filter")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/fail", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(p.requests.WithLabelValues(http.MethodGet, "/api/fail", "400")); got != 1 {
		t.Errorf("expected one 400 request, got %v", got)
	}
	if got := testutil.ToFloat64(p.inflight); got != 0 {
		t.Errorf("expected no in-flight requests, got %v", got)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	p := NewProvider(Config{Enabled: false})

	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if n := testutil.CollectAndCount(p.requests); n != 0 {
		t.Errorf("expected no series when disabled, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Aggregations and writes
// ---------------------------------------------------------------------------

func TestObserveAggregation(t *testing.T) {
	p := newTestProvider()

	p.ObserveAggregation("billing", "kpis", 12*time.Millisecond, nil)
	p.ObserveAggregation("billing", "kpis", 8*time.Millisecond, errors.New("timeout"))

	if n := testutil.CollectAndCount(p.aggregationLatency); n != 1 {
		t.Errorf("expected one latency series, got %d", n)
	}
	if got := testutil.ToFloat64(p.aggregationErrors.WithLabelValues("billing", "kpis")); got != 1 {
		t.Errorf("expected one error, got %v", got)
	}
}

func TestObserve_NilProvider(t *testing.T) {
	var p *Provider
	p.ObserveAggregation("billing", "kpis", time.Millisecond, nil)
	p.ObserveWrite("expense", "created")
}

func TestObserveWrite(t *testing.T) {
	p := newTestProvider()
	p.ObserveWrite("expense", "created")
	p.ObserveWrite("expense", "conflict")
	p.ObserveWrite("expense", "created")

	if got := testutil.ToFloat64(p.writes.WithLabelValues("expense", "created")); got != 2 {
		t.Errorf("expected 2 created, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

func TestPrometheusHandler_ValidFormat(t *testing.T) {
	p := newTestProvider()
	p.ObserveAggregation("medications", "low_stock", 3*time.Millisecond, nil)

	e := echo.New()
	e.GET("/metrics", p.PrometheusHandler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE mnhs_aggregation_duration_seconds histogram",
		`mnhs_aggregation_duration_seconds_count{dashboard="medications",section="low_stock"} 1`,
		`mnhs_build_info{version="test"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
