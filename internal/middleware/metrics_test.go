package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/gw/admin/connectors/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(
		"/api/v1/gw/admin/connectors/:id", http.MethodGet, "200"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/gw/admin/connectors/conn-42", nil))

	after := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(
		"/api/v1/gw/admin/connectors/:id", http.MethodGet, "200"))
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1 on the route template label", before, after)
	}
}

func TestMetricsMiddleware_UnmatchedRouteUsesPlaceholder(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())

	before := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(
		"<no-route>", http.MethodGet, "404"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	after := testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(
		"<no-route>", http.MethodGet, "404"))
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1 on <no-route>", before, after)
	}
}
