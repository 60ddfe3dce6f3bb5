// Package api exposes the occupancy engine over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	engine  *engine.Engine
	store   store.Store
	hub     *hub.Hub
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(eng *engine.Engine, s store.Store, h *hub.Hub, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		engine:  eng,
		store:   s,
		hub:     h,
		webpush: webpushOptions,
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var closed *engine.ClosedError
	switch {
	case errors.Is(err, engine.ErrInvalidToken):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrNoSession):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &closed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   closed.Error(),
			"status":  closed.Status,
			"message": closed.Message,
		})
	case errors.Is(err, engine.ErrFullAndUnremovable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrOutOfRange),
		errors.Is(err, engine.ErrInvalidStatus),
		errors.Is(err, engine.ErrInvalidTimeFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrPersistenceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
