package http

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute labels requests that hit no registered route, so probes
// for arbitrary paths cannot grow label cardinality.
const unmatchedRoute = "unmatched"

var (
	defaultRequestMetrics *requestMetrics
	requestMetricsOnce    sync.Once
)

// requestMetrics are served on /metrics next to the pipeline series:
//   - consultd_http_requests_total{method,route,code}
//   - consultd_http_request_duration_seconds{method,route}
//   - consultd_http_in_flight_requests
type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// defaultMetrics registers on the default registry once per process.
func defaultMetrics() *requestMetrics {
	requestMetricsOnce.Do(func() {
		defaultRequestMetrics = newRequestMetrics(prometheus.DefaultRegisterer)
	})
	return defaultRequestMetrics
}

func newRequestMetrics(reg prometheus.Registerer) *requestMetrics {
	f := promauto.With(reg)
	return &requestMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consultd_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"}),
		// Run waits for the LLM stages, hence the long upper buckets.
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consultd_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "consultd_http_in_flight_requests",
			Help: "HTTP requests currently being served",
		}),
	}
}

// middleware records every request under its route pattern. Echo reports
// "/api/v1/sessions/:id" rather than the concrete id.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final.
				c.Error(err)
			}

			method := c.Request().Method
			route := routeLabel(c.Path())
			m.requests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

func routeLabel(path string) string {
	if path == "" {
		return unmatchedRoute
	}
	return path
}
