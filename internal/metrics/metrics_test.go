package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AcceptOutcome("accepted")
	m.AcceptOutcome("already_taken")
	m.AcceptOutcome("already_taken")
	m.Transitioned("OPEN", "ACCEPTED")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptTotal.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acceptTotal.WithLabelValues("already_taken")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("OPEN", "ACCEPTED")))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/trips/:id/status", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/trips/a/status", "/trips/b/status", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/trips/:id/status", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
