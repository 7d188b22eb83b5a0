package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"webtestflow/replayer/internal/api/middleware"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/pkg/auth"
	"webtestflow/replayer/pkg/response"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IssueTabToken registers a new tab identity and returns its signed token.
// A tab that already has an id may ask for it to be re-signed.
func (h *Handler) IssueTabToken(c *gin.Context) {
	var req struct {
		TabID string `json:"tab_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	tabID := req.TabID
	if tabID == "" {
		tabID = uuid.New().String()
	}

	token, err := auth.GenerateTabToken(h.TokenSecret, tabID, h.TokenExpiry)
	if err != nil {
		response.InternalServerError(c, "failed to issue tab token")
		return
	}
	response.Success(c, gin.H{
		"tab_id": tabID,
		"token":  token,
	})
}

func (h *Handler) GetTabs(c *gin.Context) {
	response.Success(c, h.Hub.Tabs())
}

// AgentWebSocket upgrades an authenticated agent connection and relays its
// requests to the proxy until it disconnects.
func (h *Handler) AgentWebSocket(c *gin.Context) {
	tabID := c.GetString(middleware.TabIDKey)
	if tabID == "" {
		response.Unauthorized(c, "missing tab identity")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	relay.ServeConn(h.baseContext(), conn, tabID, c.Query("url"), h.Hub, h.Proxy)
}
