package api

import (
	"net/http"

	"github.com/condohub/condochat/internal/api/chat"
	"github.com/condohub/condochat/internal/api/middleware"
	"github.com/condohub/condochat/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	sessionService *service.SessionService,
	logger *zap.Logger,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check; a degraded store still serves requests
	r.GET("/health", func(c *gin.Context) {
		degraded := sessionService.Degraded()
		status := "ok"
		if degraded {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "degraded": degraded})
	})

	// Chat API (scoped by identity headers)
	chatHandler := chat.NewHandler(sessionService, logger)
	chatGroup := r.Group("/api/chat")
	chatGroup.Use(middleware.Identity())
	chatHandler.RegisterRoutes(chatGroup)

	return r
}
