// Package httpapi wires the HTTP transport (Gin) to the application
// components, one router per tier. It centralizes cross-cutting concerns:
// tracing, correlation IDs, structured logging, panic recovery, metrics,
// CORS, security headers, rate limiting, and the shared-secret trust
// boundary.
//
// Middleware order matters on both tiers:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//
// and then the tier-specific stack (gateway: gzip, CORS, security headers,
// edge limiter, sessions; worker: shared-secret token on the API group).
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/infernalforge/forge/docs" // swagger spec registration

	"github.com/infernalforge/forge/internal/config"
	"github.com/infernalforge/forge/internal/http/handlers"
	"github.com/infernalforge/forge/internal/http/middleware"
)

// maxWorkerBody caps worker-tier request bodies. Generous relative to the
// JSON payloads it actually receives, matching the original service limit.
const maxWorkerBody = 16 << 20

// RegisterWorkerRoutes attaches the internal tier's middleware and
// endpoints. Every API route requires the shared-secret token; only
// /metrics is open (scraped from inside the trust boundary).
func RegisterWorkerRoutes(r *gin.Engine, h *handlers.WorkerHandlers, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxWorkerBody))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	auth := r.Group("", middleware.RequireAuthToken(cfg.AuthToken))
	{
		auth.GET("/", h.Index)
		auth.POST("/generate", h.Generate)
		auth.GET("/status/:job_id", h.Status)
		auth.GET("/output/:file_id", h.Output)
		auth.GET("/health", h.Health)
	}
}

// RegisterGatewayRoutes attaches the public tier's middleware and endpoints.
// The gateway fronts browsers: sessions, CORS, security headers, gzip, and
// an edge token-bucket limiter all live here. Proxying routes require the
// shared-secret token just like their worker counterparts.
func RegisterGatewayRoutes(r *gin.Engine, h *handlers.GatewayHandlers, sessions *middleware.Sessions, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Compress JSON responses; artifact bytes are already compressed PNG.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/output"})))

	registerCORS(r, cfg)

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Edge abuse control, keyed by the verified session cookie when present,
	// else IP. The key function peeks the cookie itself because the session
	// middleware is route-scoped and runs later.
	rl := middleware.NewRateLimiter(cfg.EdgeRPS, cfg.EdgeBurst, middleware.KeyBySessionOrIP(sessions))
	r.Use(rl.Handler())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Entry route issues the session; /generate requires one already issued.
	r.GET("/", sessions.Issue(), h.Index)
	r.POST("/generate", sessions.Require(), h.Generate)

	// Proxying routes carry the internal trust boundary outward: the token
	// is required here exactly as on the worker.
	tokenRequired := middleware.RequireAuthToken(cfg.AuthToken)
	r.GET("/status/:job_id", tokenRequired, h.Status)
	r.GET("/output/:file_id", tokenRequired, h.Output)

	r.GET("/health", h.Health)
}

// registerCORS installs the CORS posture: allow-all when no origins are
// configured (dev), otherwise a strict allowlist with the Origin echoed.
func registerCORS(r *gin.Engine, cfg config.Config) {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", middleware.AuthTokenHeader}
	exposeHeaders := []string{"X-Request-ID", "Content-Length"}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		// ACAO: * even without an Origin header (helps tests and probes).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
	for _, o := range cfg.CORS.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				hd := c.Writer.Header()
				hd.Set("Access-Control-Allow-Origin", origin)
				hd.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    exposeHeaders,
		AllowCredentials: true, // session cookie rides on same-origin fetches
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody caps request body size via http.MaxBytesReader; oversized
// bodies make downstream reads fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
