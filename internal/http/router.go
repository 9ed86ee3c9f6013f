// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, compression,
// metrics, CORS, security headers, idempotency, and rate limiting.
//
// All collaborators arrive through Deps; the package holds no globals beyond
// the Prometheus collectors registered by middleware.
package httpapi

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/docs"
	"github.com/tbourn/go-interview-backend/internal/config"
	"github.com/tbourn/go-interview-backend/internal/http/handlers"
	"github.com/tbourn/go-interview-backend/internal/http/middleware"
	"github.com/tbourn/go-interview-backend/internal/llm"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/session"
	"github.com/tbourn/go-interview-backend/internal/storage"
	"github.com/tbourn/go-interview-backend/internal/voice"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	DB *gorm.DB
	// Model backs interview generation and feedback scoring.
	Model llm.Model
	// Uploader stores company logos. Nil disables uploads.
	Uploader storage.Uploader
	// Sessions tracks live voice sessions. Nil creates a private registry.
	Sessions *session.Registry
}

// sessionPathPattern matches the WebSocket route, which must not be wrapped
// by the gzip writer.
const sessionPathPattern = `/interviews/[^/]+/session$`

// writeCost is the token price of a POST or PUT.
const writeCost = 5

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health, metrics and docs endpoints, and
// then mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: request-scoped zerolog logger in the context
//  4. RedactingLogger: access log with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Gzip (WebSocket route excluded)
//  7. Body size limiter
//  8. Metrics
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. CORS and Security headers
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Scoped logger for handlers, services and sessions
	r.Use(middleware.Logger())

	// 4) Structured access logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{sessionPathPattern})))

	// 7) Global body size limit; logos arrive inline so the cap is configurable
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	r.Use(limitBody(maxBody))

	// 8) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 9) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(d.DB),
	))

	// 10) Token-bucket rate limiter per user/IP; writes call the model
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(),
		middleware.WithCost(middleware.CostByMethod(writeCost)))
	r.Use(rl.Handler())

	// 11) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers; the browser client records answers from the microphone
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{path.Join("/", cfg.APIBasePath, "me")},
		AllowMicrophone: true,
		Expose:          []string{"ETag", middleware.HeaderIdempotencyReplayed},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/model/storage
	uploader := d.Uploader
	if uploader == nil {
		uploader = storage.Disabled{}
	}
	ivSvc := &services.InterviewService{
		DB:             d.DB,
		Model:          d.Model,
		Uploader:       uploader,
		MaxResumeRunes: cfg.MaxResumeRunes,
		RoleLocale:     roleLocale(cfg.RoleLocale),
	}
	fbSvc := &services.FeedbackService{
		DB:             d.DB,
		Model:          d.Model,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	profileSvc := &services.ProfileService{DB: d.DB, MaxResumeRunes: cfg.MaxResumeRunes}

	h := handlers.New(ivSvc, fbSvc, profileSvc, handlers.SessionOptions{
		Registry:        d.Sessions,
		AssistantID:     cfg.Voice.AssistantID,
		FeedbackTimeout: cfg.Voice.FeedbackTimeout,
		Voice: voice.Config{
			StartTimeout:    cfg.Voice.StartTimeout,
			PingInterval:    cfg.Voice.PingInterval,
			ReadTimeout:     cfg.Voice.ReadTimeout,
			MaxMessageBytes: cfg.Voice.MaxMessageBytes,
		},
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// Public API; every route needs a caller identity
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.RequireUser())
	{
		// Interviews
		api.POST("/interviews", h.GenerateInterview)
		api.GET("/interviews", h.ListInterviews)
		api.GET("/interviews/:id", h.GetInterview)

		// Feedback
		api.POST("/interviews/:id/feedback", h.CreateFeedback)
		api.GET("/interviews/:id/feedback", h.ListFeedback)
		api.GET("/interviews/:id/feedback/latest", h.LatestFeedback)

		// Live session (WebSocket)
		api.GET("/interviews/:id/session", h.InterviewSession)

		// Profile
		api.PUT("/me/profile", h.UpsertProfile)
		api.GET("/me/profile", h.GetProfile)
	}
}

// idempotencyLookup reports whether a live idempotency record exists. Lookup
// errors count as a miss; the service checks again inside its transaction.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, interviewID, key string, now time.Time) (bool, error) {
		if db == nil {
			return false, nil
		}
		rec, err := repo.GetIdempotency(ctx, db, userID, interviewID, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

// roleLocale parses a BCP 47 tag, falling back to language.Und (no casing).
func roleLocale(tag string) language.Tag {
	if tag == "" {
		return language.Und
	}
	t, err := language.Parse(tag)
	if err != nil {
		return language.Und
	}
	return t
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
