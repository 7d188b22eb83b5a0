package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"webtestflow/replayer/internal/proxy"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/internal/services"
)

// Launcher starts automation runs on demand.
type Launcher interface {
	Launch(ctx context.Context, automationID string) (*services.Launch, error)
}

// Handler serves the background process's HTTP surface.
type Handler struct {
	Proxy     *proxy.Proxy
	Hub       *relay.Hub
	Launcher  Launcher
	Scheduler *services.Scheduler

	TokenSecret []byte
	TokenExpiry time.Duration
	// BaseCtx bounds websocket sessions; it is cancelled on shutdown.
	BaseCtx context.Context
}

func (h *Handler) baseContext() context.Context {
	if h.BaseCtx != nil {
		return h.BaseCtx
	}
	return context.Background()
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "success",
		"data": gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		},
	})
}
