package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"corrlab/internal/api/handlers"
	apimiddleware "corrlab/internal/api/middleware"
	"corrlab/internal/config"
	"corrlab/internal/infrastructure/cache"
	"corrlab/internal/streaming"
	"corrlab/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	cache    *cache.RedisCache
	wsHub    *streaming.WebSocketHub
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. wsHub may be nil.
func NewRouter(cfg config.Config, h *handlers.Handlers, c *cache.RedisCache, hub *streaming.WebSocketHub, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		cache:    c,
		wsHub:    hub,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	if r.config.RateLimit.Enabled && r.cache != nil {
		router.Use(apimiddleware.RateLimiter(r.cache, r.config.RateLimit))
	}

	// Health and readiness probes
	router.Get("/health", r.handlers.Health.Check)
	router.Get("/ready", r.handlers.Health.Ready)

	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/stats", r.handlers.Stats.Get)

		api.Route("/correlation", func(corr chi.Router) {
			corr.Post("/analyze", r.handlers.Correlation.Analyze)
			corr.Post("/analyze/{flow_id}", r.handlers.Correlation.AnalyzeFlow)
			corr.Get("/matrix", r.handlers.Correlation.Matrix)
		})

		api.Route("/campaigns", func(campaigns chi.Router) {
			campaigns.Get("/", r.handlers.Campaigns.List)
			campaigns.Post("/detect", r.handlers.Campaigns.Detect)
			campaigns.Get("/{id}", r.handlers.Campaigns.Get)
			campaigns.Post("/{id}/merge", r.handlers.Campaigns.Merge)
			campaigns.Patch("/{id}/status", r.handlers.Campaigns.UpdateStatus)
			campaigns.Get("/{id}/timeline", r.handlers.Campaigns.Timeline)
			campaigns.Get("/{id}/report", r.handlers.Campaigns.Report)
			campaigns.Get("/{id}/graph", r.handlers.Campaigns.Graph)
		})

		api.Get("/graph", r.handlers.Graph.Get)
	})

	// WebSocket streaming endpoint for real-time engine events
	if r.wsHub != nil {
		router.Get("/ws/events", r.wsHub.ServeWebSocket)
	}

	return router
}
