package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ProviderAndScanMetrics(t *testing.T) {
	r := New()

	r.ObserveProviderCall("groq", "success", 800*time.Millisecond)
	r.ObserveProviderCall("groq", "rate_limited", 0)
	r.ObserveProviderCall("groq", "rate_limited", 0)
	r.ObserveCooldown("groq", 2*time.Minute)
	r.ObserveSignal("binance", "BULLISH")
	r.ObserveScanError("binance")
	r.ObserveScan("completed", 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.providerCalls.WithLabelValues("groq", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.providerCalls.WithLabelValues("groq", "rate_limited")))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.providerCooldown.WithLabelValues("groq")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.signals.WithLabelValues("binance", "BULLISH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scansTotal.WithLabelValues("completed")))
}

func TestRecorder_HandlerAndMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New()

	router := gin.New()
	router.Use(r.GinMiddleware())
	router.GET("/api/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(r.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, `signal_engine_http_requests_total{method="GET",route="/api/health",status="200"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
