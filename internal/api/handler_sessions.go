package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/ranker"
)

// GetScored lists the open sessions in removal order with their factor
// breakdown.
func (h *Handler) GetScored(c *gin.Context) {
	scored, err := h.engine.ListScored(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if scored == nil {
		scored = []ranker.Scored{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": scored})
}

type removeTopRequest struct {
	Count int `json:"count" binding:"required"`
}

// PostRemoveTop force-removes the highest ranked sessions.
func (h *Handler) PostRemoveTop(c *gin.Context) {
	var req removeTopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.engine.ForceRemoveTop(c.Request.Context(), req.Count)
	if err != nil {
		writeError(c, err)
		return
	}
	if removed == nil {
		removed = []engine.RemovedOccupant{}
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
