package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Stock().ObserveAdjustment("sale", -2)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `odyssey_retail_stock_adjustments_total{reason="sale"} 1`) {
		t.Fatalf("expected body to contain stock adjustments, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestStockMetricsCountUnitsByDirection(t *testing.T) {
	stock := NewStockMetrics(prometheus.NewRegistry())
	stock.ObserveAdjustment("sale", -3)
	stock.ObserveAdjustment("sale", -1)
	stock.ObserveAdjustment("purchase-receipt", 10)
	stock.ObserveInsufficientStock("sale")

	if got := testutil.ToFloat64(stock.adjustments.WithLabelValues("sale")); got != 2 {
		t.Fatalf("expected 2 sale adjustments, got %v", got)
	}
	if got := testutil.ToFloat64(stock.units.WithLabelValues("sale", "out")); got != 4 {
		t.Fatalf("expected 4 units out, got %v", got)
	}
	if got := testutil.ToFloat64(stock.units.WithLabelValues("purchase-receipt", "in")); got != 10 {
		t.Fatalf("expected 10 units in, got %v", got)
	}
	if got := testutil.ToFloat64(stock.insufficient.WithLabelValues("sale")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}

	var nilMetrics *StockMetrics
	nilMetrics.ObserveAdjustment("sale", 1)
	nilMetrics.ObserveInsufficientStock("sale")
}
