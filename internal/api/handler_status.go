package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/model"
)

type putStatusRequest struct {
	Status              string `json:"status" binding:"required"`
	Message             string `json:"message"`
	AutoOpen            string `json:"auto_open"`
	AutoClose           string `json:"auto_close"`
	AutoScheduleEnabled bool   `json:"auto_schedule_enabled"`
	UpdatedBy           string `json:"updated_by"`
}

// PutStatus appends a new status record.
func (h *Handler) PutStatus(c *gin.Context) {
	var req putStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.engine.SetStatus(c.Request.Context(), engine.StatusChange{
		Status:              model.StatusKind(req.Status),
		Message:             req.Message,
		AutoOpen:            req.AutoOpen,
		AutoClose:           req.AutoClose,
		AutoScheduleEnabled: req.AutoScheduleEnabled,
		UpdatedBy:           req.UpdatedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
