package router

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	dispatchHandler "github.com/relaykit/relay-api/internal/handler/dispatch"
	healthHandler "github.com/relaykit/relay-api/internal/handler/health"
	outboxHandler "github.com/relaykit/relay-api/internal/handler/outbox"
	reconcileHandler "github.com/relaykit/relay-api/internal/handler/reconcile"
	"github.com/relaykit/relay-api/internal/middleware"
)

// Pinger reports whether a backing dependency is reachable. The readiness
// probe fails when any registered pinger does.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	Namespace        string
}

type Router struct {
	engine     *gin.Engine
	auth       *middleware.AuthMiddleware
	outboxH    *outboxHandler.Handler
	dispatchH  *dispatchHandler.Handler
	reconcileH *reconcileHandler.Handler
	healthH    *healthHandler.Handler
	pingers    map[string]Pinger
	metrics    *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

func initRouterMetrics(namespace string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		requestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		errorTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "HTTP 5xx responses by route.",
		}, []string{"method", "route"}),
	}
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	outboxH *outboxHandler.Handler,
	dispatchH *dispatchHandler.Handler,
	reconcileH *reconcileHandler.Handler,
	healthH *healthHandler.Handler,
	pingers map[string]Pinger,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:     gin.New(),
		auth:       auth,
		outboxH:    outboxH,
		dispatchH:  dispatchH,
		reconcileH: reconcileH,
		healthH:    healthH,
		pingers:    pingers,
		metrics:    initRouterMetrics(config.Namespace),
	}

	r.engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		r.metricsMiddleware(),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		r.engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")
	api.Use(r.auth.Authenticate())

	requireAdmin := r.auth.RequireAdmin()
	r.outboxH.RegisterRoutes(api, requireAdmin)
	r.dispatchH.RegisterRoutes(api, requireAdmin)
	r.reconcileH.RegisterRoutes(api, requireAdmin)
	r.healthH.RegisterRoutes(api, requireAdmin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(r.pingers))
	ready := true
	for name, pinger := range r.pingers {
		if err := pinger.PingContext(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		status := c.Writer.Status()

		r.metrics.requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			r.metrics.errorTotal.WithLabelValues(method, route).Inc()
		}
	}
}
