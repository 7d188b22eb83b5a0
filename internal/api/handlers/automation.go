package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/pkg/response"
)

func (h *Handler) LaunchAutomation(c *gin.Context) {
	if h.Launcher == nil {
		response.Error(c, 503, "automation launches are not configured")
		return
	}
	launch, err := h.Launcher.Launch(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, relay.ErrNoListener) {
			response.Error(c, 503, "no tab is connected")
			return
		}
		response.InternalServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "automation launched", launch)
}

func (h *Handler) GetSchedules(c *gin.Context) {
	if h.Scheduler == nil {
		response.Success(c, []interface{}{})
		return
	}
	response.Success(c, h.Scheduler.Entries())
}

func (h *Handler) UpdateSchedule(c *gin.Context) {
	if h.Scheduler == nil {
		response.Error(c, 503, "scheduler is disabled")
		return
	}
	var req struct {
		Spec string `json:"spec" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.Scheduler.Add(c.Param("id"), req.Spec); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "schedule updated", h.Scheduler.Entries())
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	if h.Scheduler == nil || !h.Scheduler.Remove(c.Param("id")) {
		response.NotFound(c, "schedule not found")
		return
	}
	response.SuccessWithMessage(c, "schedule removed", nil)
}
