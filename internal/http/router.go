package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/returnwatch/internal/config"
	"github.com/smallbiznis/returnwatch/internal/http/handler"
	"github.com/smallbiznis/returnwatch/internal/http/middleware"
)

// NewRouter wires gin routes and middleware.
func NewRouter(cfg config.Config, api *handler.APIHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	v1 := r.Group("/v1")
	{
		receipts := v1.Group("/receipts")
		{
			receipts.POST("", api.IngestReceipt)
			receipts.GET("/:id/preview", api.PreviewDecision)
		}

		deadlines := v1.Group("/deadlines")
		{
			deadlines.POST("/:id/decision", api.DecideDeadline)
			deadlines.POST("/:id/reopen", api.ReopenDeadline)
		}

		credentials := v1.Group("/credentials")
		{
			credentials.GET("/:userID/token", api.ConnectorToken)
			credentials.POST("/:userID/reauthorize", api.ReauthorizeCredential)
		}
	}

	// Time-based invokers hit this; it is idempotent per milestone.
	r.POST("/internal/jobs/notifications", api.RunNotifications)

	r.GET("/healthz", api.Healthz)

	return r
}
