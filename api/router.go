package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pos_offline/internal/catalog"
	"pos_offline/internal/netmon"
	"pos_offline/internal/queue"
)

// Components are the constructed offline-sync pieces the routes expose.
// They are built by the caller so tests can wire doubles and a multi-register
// deployment can run several independent instances.
type Components struct {
	Manager      *queue.Manager
	Orchestrator *queue.Orchestrator
	Monitor      *netmon.Monitor
	Cache        *catalog.Cache
	Logger       *zap.Logger
}

// InitRoutes registers the POS endpoints on the given Gin engine.
func InitRoutes(e *gin.Engine, c Components) {
	logger := c.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	h := NewPOSHandler(c.Manager, c.Orchestrator, c.Monitor, c.Cache, logger)

	pos := e.Group("/pos")
	pos.POST("/sales", h.handleQueueSale)
	pos.POST("/sync", h.handleSyncNow)
	pos.GET("/queue/stats", h.handleQueueStats)
	pos.POST("/queue/failed/clear", h.handleClearFailed)
	pos.GET("/network", h.handleNetworkStatus)
	pos.PUT("/network", h.handleReportNetwork)
	pos.POST("/catalog/refresh", h.handleCatalogRefresh)
	pos.GET("/catalog/:code", h.handleCatalogLookup)

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}
