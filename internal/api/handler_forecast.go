package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/engine"
)

// GetForecast returns the predicted occupancy for the next minutes. The
// horizon query parameter defaults to 30 and is clamped by the engine.
func (h *Handler) GetForecast(c *gin.Context) {
	horizon := 30
	if raw := c.Query("horizon"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid horizon"})
			return
		}
		horizon = v
	}
	c.JSON(http.StatusOK, h.engine.Forecast(horizon))
}

// PostHistory cold-starts the forecaster from an external history batch.
func (h *Handler) PostHistory(c *gin.Context) {
	var points []engine.HistoryPoint
	if err := c.ShouldBindJSON(&points); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(points) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty history batch"})
		return
	}

	loaded := h.engine.IngestHistory(points)
	c.JSON(http.StatusOK, gin.H{"loaded": loaded})
}
