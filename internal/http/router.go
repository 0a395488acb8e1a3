// Package httpapi wires the Gin engine: middleware, the Slack endpoint,
// liveness and Prometheus metrics.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and the request-scoped logger
//  3. RedactingLogger: access log with X-Slack-Signature masked
//  4. Recovery: capture panics after logging is in place
//  5. Body size limit
//  6. Metrics (the /metrics route itself is registered here, before limiting)
//  7. Slack retry annotation, then the rate limiter (signed retries bypass it)
//  8. CORS and security headers
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/doxyme-slack-calling/internal/config"
	"github.com/tbourn/doxyme-slack-calling/internal/http/handlers"
	"github.com/tbourn/doxyme-slack-calling/internal/http/middleware"
	"github.com/tbourn/doxyme-slack-calling/internal/slackauth"
)

// MaxBodyBytes caps inbound bodies. Slack payloads are a few KiB.
const MaxBodyBytes int64 = 1 << 20

var corsHeaders = []string{"Origin", "Content-Type", "Accept", slackauth.HeaderTimestamp, slackauth.HeaderSignature}

// RegisterRoutes attaches all middleware and endpoints to r. The Slack
// endpoint is mounted at cfg.Slack.Path for GET (liveness) and POST.
func RegisterRoutes(r *gin.Engine, slack *handlers.SlackHandler, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.ContextLogger())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(MaxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gzip.Gzip(gzip.DefaultCompression), metricsHandler())

	var verifier middleware.RequestVerifier
	if slack.Verifier != nil {
		verifier = slack.Verifier
	}
	r.Use(middleware.SlackRetry(verifier))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", slack.Liveness)
	r.GET(cfg.Slack.Path, slack.Liveness)
	r.POST(cfg.Slack.Path, slack.Receive)
}

// metricsHandler serves the default registry; compression is left to the
// gzip middleware.
func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{DisableCompression: true}),
	))
}

// corsMiddleware allows every origin when none is configured; otherwise it
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even without an Origin header so plain health checks see it.
		force := func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{force, cors.New(base)}
	}

	base.AllowOrigins = origins
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	echo := func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	}
	return []gin.HandlerFunc{echo, cors.New(base)}
}

// limitBody caps the request body at maxBytes; reads past the cap fail with
// *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
