// README: Prometheus collectors for the API and trip service outcomes.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups every metric the service exports. It satisfies
// trip.Observer so the trip service can report outcomes without importing
// prometheus.
type Collectors struct {
	acceptTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		acceptTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripmatch_accept_total",
				Help: "Accept attempts by outcome",
			},
			[]string{"result"},
		),
		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripmatch_transitions_total",
				Help: "Applied trip status transitions",
			},
			[]string{"from", "to"},
		),
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripmatch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripmatch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Collectors) AcceptOutcome(result string) {
	m.acceptTotal.WithLabelValues(result).Inc()
}

func (m *Collectors) Transitioned(from, to string) {
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// Middleware records request count and latency per matched route. Unmatched
// paths share one label so scanners cannot blow up cardinality.
func (m *Collectors) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
