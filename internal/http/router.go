// README: HTTP router registration.
package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tripmatch/internal/http/handlers"
	"tripmatch/internal/http/middleware"
	"tripmatch/internal/infra"
	"tripmatch/internal/metrics"
	"tripmatch/internal/modules/profile"
	"tripmatch/internal/modules/tracking"
	"tripmatch/internal/modules/trip"
	"tripmatch/internal/types"
)

type RouterDeps struct {
	Trips    *trip.Service
	Profiles *profile.Service
	Watcher  *tracking.Watcher
	Verifier infra.TokenVerifier
	// Metrics and Gatherer are optional; /metrics is served only with a Gatherer.
	Metrics  *metrics.Collectors
	Gatherer prometheus.Gatherer
	Checks   map[string]handlers.Pinger
	Logger   *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	health := handlers.NewHealthHandler(deps.Checks)
	r.GET("/healthz", health.Live)
	r.GET("/readyz", health.Ready)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	authed := r.Group("/", middleware.Auth(deps.Verifier))
	owner := middleware.RequireRole(types.RoleOwner)
	driver := middleware.RequireRole(types.RoleDriver)
	party := middleware.RequireRole(types.RoleOwner, types.RoleDriver)

	th := handlers.NewTripHandler(deps.Trips)
	trips := authed.Group("/trips")
	trips.POST("", owner, th.Create)
	trips.GET("/feed", driver, th.Feed)
	trips.GET("/history", party, th.History)
	trips.POST("/:id/accept", driver, th.Accept)
	trips.POST("/:id/start", driver, th.Start)
	trips.POST("/:id/complete", driver, th.Complete)
	trips.POST("/:id/cancel", party, th.Cancel)
	trips.GET("/:id/status", th.Status)
	trips.GET("/:id/audit", th.Audit)
	if deps.Watcher != nil {
		eh := handlers.NewEventsHandler(deps.Watcher, log)
		trips.GET("/:id/events", eh.Stream)
	}

	if deps.Profiles != nil {
		ph := handlers.NewProfileHandler(deps.Profiles)
		authed.GET("/profiles/me", ph.Me)
		authed.PUT("/profiles/me", party, ph.UpsertMe)
	}
	return r
}
