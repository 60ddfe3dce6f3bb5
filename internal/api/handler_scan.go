package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type scanRequest struct {
	Token string `json:"token" binding:"required"`
}

// PostScan handles an entry/exit scan.
func (h *Handler) PostScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.engine.HandleScan(c.Request.Context(), req.Token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
