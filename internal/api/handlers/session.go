package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/proxy"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/pkg/response"
)

func (h *Handler) GetSessionConfig(c *gin.Context) {
	cfg, err := h.Proxy.Config(c.Param("id"))
	if err != nil {
		writeRelayError(c, err)
		return
	}
	response.Success(c, cfg)
}

// UpdateSessionConfig stores a session's configuration and pushes it to every
// tab bound to the session.
func (h *Handler) UpdateSessionConfig(c *gin.Context) {
	var req models.SessionConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.APIBase == "" {
		response.BadRequest(c, "apiBase is required")
		return
	}
	if err := h.Proxy.SetConfig(c.Param("id"), req); err != nil {
		writeRelayError(c, err)
		return
	}
	cfg, err := h.Proxy.Config(c.Param("id"))
	if err != nil {
		writeRelayError(c, err)
		return
	}
	response.SuccessWithMessage(c, "session configured", cfg)
}

type BufferPage struct {
	Entries  []proxy.BufferedEntry `json:"entries"`
	Cursor   proxy.Cursor          `json:"cursor"`
	Capacity int                   `json:"capacity"`
}

// GetBuffer returns the recently relayed raw and summary events. Pass the
// returned cursor as since to read only what arrived afterwards.
func (h *Handler) GetBuffer(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			response.BadRequest(c, "since must be a non-negative integer")
			return
		}
		since = n
	}
	entries, cursor := h.Proxy.BufferedSince(proxy.Cursor(since))
	if entries == nil {
		entries = []proxy.BufferedEntry{}
	}
	response.Success(c, BufferPage{Entries: entries, Cursor: cursor, Capacity: h.Proxy.BufferCapacity()})
}

func writeRelayError(c *gin.Context, err error) {
	switch {
	case relay.HasCode(err, relay.CodeBadRequest):
		response.BadRequest(c, err.Error())
	case relay.HasCode(err, relay.CodeNotFound):
		response.NotFound(c, err.Error())
	default:
		response.InternalServerError(c, err.Error())
	}
}
