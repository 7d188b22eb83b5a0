package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"webtestflow/replayer/internal/api/handlers"
	"webtestflow/replayer/internal/api/middleware"
	"webtestflow/replayer/internal/config"
)

func SetupRoutes(cfg *config.Config, h *handlers.Handler) *gin.Engine {
	router := gin.Default()

	// Echo the caller's origin; pages under test are served from anywhere.
	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Tab identity
		v1.POST("/tabs", h.IssueTabToken)
		v1.GET("/tabs", h.GetTabs)

		// Agent relay (token in query for websocket clients)
		agent := v1.Group("/ws")
		agent.Use(middleware.TabAuthMiddleware([]byte(cfg.JWT.Secret)))
		{
			agent.GET("/agent", h.AgentWebSocket)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:id/config", h.GetSessionConfig)
			sessions.PUT("/:id/config", h.UpdateSessionConfig)
		}

		v1.GET("/buffer", h.GetBuffer)

		automations := v1.Group("/automations")
		{
			automations.POST("/:id/launch", h.LaunchAutomation)
			automations.GET("/schedules", h.GetSchedules)
			automations.PUT("/:id/schedule", h.UpdateSchedule)
			automations.DELETE("/:id/schedule", h.DeleteSchedule)
		}
	}

	return router
}
