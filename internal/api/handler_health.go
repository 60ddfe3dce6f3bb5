package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetHealth reports liveness and the persistence breaker state.
func (h *Handler) GetHealth(c *gin.Context) {
	ok, down := h.engine.Healthy()
	body := gin.H{
		"ok": ok,
		"persistence": gin.H{
			"healthy":      ok,
			"down_seconds": int64(down.Seconds()),
		},
	}
	if !ok {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
