package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetOccupancy returns the current occupancy snapshot.
func (h *Handler) GetOccupancy(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetState())
}

type putCapacityRequest struct {
	MaxCapacity int `json:"max_capacity" binding:"required"`
}

// PutCapacity changes the space cap.
func (h *Handler) PutCapacity(c *gin.Context) {
	var req putCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.engine.SetMaxCapacity(c.Request.Context(), req.MaxCapacity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type adjustRequest struct {
	Mode   string `json:"mode" binding:"required"`
	Amount int    `json:"amount"`
}

// PostAdjust applies an operator correction to the counter.
func (h *Handler) PostAdjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.engine.AdjustOccupancy(c.Request.Context(), req.Mode, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetSession returns the open session of one occupant.
func (h *Handler) GetSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid occupant id"})
		return
	}

	info, err := h.engine.SessionFor(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
