// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package states

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianStates/pkg/logging"
	"github.com/AleutianAI/AleutianStates/services/states/observability"
)

// DefaultBasePath is where the API is mounted unless configured otherwise.
const DefaultBasePath = "/api/v1"

// RegisterRoutes registers the State endpoints on rg.
//
// Description:
//
//	rg is normally the group for the API base path. Middleware should
//	already be applied by the caller.
//
// Endpoints:
//
//	GET    {base}/states            - List States
//	POST   {base}/states            - Create a State
//	GET    {base}/states/:state_id  - Get a State
//	PUT    {base}/states/:state_id  - Update a State
//	DELETE {base}/states/:state_id  - Delete a State
//	GET    {base}/status            - Liveness
//	GET    {base}/stats             - Object counts
//	GET    {base}/events            - WebSocket change feed, when a hub is set
//
// Example:
//
//	handlers := states.NewHandlers(states.NewResource(engine), logger, metrics)
//	v1 := router.Group("/api/v1")
//	states.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.GET("/status", handlers.HandleStatus)
	rg.GET("/stats", handlers.HandleStats)
	if handlers.hub != nil {
		rg.GET("/events", handlers.HandleWatchStates)
	}

	states := rg.Group("/states")
	{
		states.GET("", handlers.HandleListStates)
		states.POST("", handlers.HandleCreateState)
		states.GET("/:state_id", handlers.HandleGetState)
		states.PUT("/:state_id", handlers.HandleUpdateState)
		states.DELETE("/:state_id", handlers.HandleDeleteState)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// BasePath is the API prefix. Empty means DefaultBasePath.
	BasePath string

	// ServiceName names the otelgin server spans. Empty disables tracing
	// middleware.
	ServiceName string

	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64

	// RateBurst is the per-client burst.
	RateBurst int

	// Logger receives panic reports.
	Logger *logging.Logger

	// Metrics receives in-flight and rate-limit counts. May be nil.
	Metrics *observability.ResourceMetrics

	// MetricsHandler is served at /metrics when non-nil.
	MetricsHandler http.Handler
}

// NewRouter builds the gin engine with middleware, State routes, /metrics
// and JSON 404/405 responses.
//
// Description:
//
//	Middleware order: recovery, request id, tracing, in-flight tracking,
//	rate limiting. Trailing-slash redirects are disabled; wrap the result
//	with Handler so "/states/" is served like "/states".
//
// Inputs:
//
//	cfg - Router settings.
//	handlers - State handlers.
//
// Outputs:
//
//	*gin.Engine - The configured router.
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	base := cfg.BasePath
	if base == "" {
		base = DefaultBasePath
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = true

	router.Use(RecoveryMiddleware(logger))
	router.Use(RequestIDMiddleware())
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(InFlightMiddleware(cfg.Metrics))
	if cfg.RateLimit > 0 {
		router.Use(RateLimitMiddleware(NewRateLimiter(cfg.RateLimit, cfg.RateBurst), cfg.Metrics))
	}

	RegisterRoutes(router.Group(base), handlers)

	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found", Code: CodeNotFound})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed", Code: CodeMethodNotAllowed})
	})

	return router
}

// Handler wraps router so trailing-slash paths route identically.
func Handler(router *gin.Engine) http.Handler {
	return StripTrailingSlash(router)
}
