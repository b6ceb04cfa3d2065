package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebuilder_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagebuilder_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	authOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebuilder_auth_operations_total",
			Help: "Session operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// Metrics records request count and latency per route template.
// Requests that match no route are labelled "unmatched".
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Route templates keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordAuthOperation counts one session operation. outcome is "success" or
// the error kind.
func RecordAuthOperation(operation, outcome string) {
	authOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RegisterSessionGauge exposes the number of live browser sessions. It must
// be called once per registerer.
func RegisterSessionGauge(reg prometheus.Registerer, sessions interface{ Len() int }) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "pagebuilder_sessions_active",
			Help: "Number of live browser sessions",
		},
		func() float64 { return float64(sessions.Len()) },
	))
}
