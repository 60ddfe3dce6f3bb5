package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"library-occupancy-backend/config"
	"library-occupancy-backend/internal/engine"
	"library-occupancy-backend/internal/hub"
	"library-occupancy-backend/internal/mw"
	"library-occupancy-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(eng *engine.Engine, s store.Store, h *hub.Hub, srv config.ServerConfig, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()
	handler := NewHandler(eng, s, h, webpushOptions)

	rateLimiter := mw.PerIPRateLimit(rate.Limit(srv.RateLimitPerSec), srv.RateLimitBurst)

	ttl := time.Duration(srv.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 10*time.Minute), ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/scan", handler.PostScan)
		api.GET("/occupancy", caching, handler.GetOccupancy)
		api.GET("/occupants/:id/session", handler.GetSession)

		api.PUT("/capacity", handler.PutCapacity)
		api.POST("/occupancy/adjust", handler.PostAdjust)
		api.PUT("/status", handler.PutStatus)

		api.GET("/forecast", caching, handler.GetForecast)
		api.POST("/history/ingest", handler.PostHistory)

		api.GET("/sessions/scored", handler.GetScored)
		api.POST("/sessions/remove-top", handler.PostRemoveTop)

		api.GET("/stream", handler.Stream)

		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)

		api.GET("/healthz", handler.GetHealth)
	}

	return r
}
