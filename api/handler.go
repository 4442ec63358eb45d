package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pos_offline/internal/catalog"
	"pos_offline/internal/netmon"
	"pos_offline/internal/queue"
)

// posHandler holds the offline-sync components and implements the HTTP
// handlers the POS UI consumes.
type posHandler struct {
	manager *queue.Manager
	orch    *queue.Orchestrator
	monitor *netmon.Monitor
	cache   *catalog.Cache
	logger  *zap.Logger
}

// NewPOSHandler creates a new POS handler.
func NewPOSHandler(manager *queue.Manager, orch *queue.Orchestrator, monitor *netmon.Monitor, cache *catalog.Cache, logger *zap.Logger) *posHandler {
	return &posHandler{
		manager: manager,
		orch:    orch,
		monitor: monitor,
		cache:   cache,
		logger:  logger,
	}
}

// handleQueueSale handles POST /pos/sales: captures a sale into the durable
// queue and returns its local id.
func (h *posHandler) handleQueueSale(ctx *gin.Context) {
	var draft queue.SaleDraft
	if err := ctx.ShouldBindJSON(&draft); err != nil {
		h.logger.Warn("failed to bind sale payload", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	id, err := h.manager.QueueTransaction(draft)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidSale) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Storage failure: the sale was NOT captured and the register must
		// know that, so this is a hard 500, not a silent accept.
		h.logger.Error("failed to queue sale", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue sale"})
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"id": id})
}

// handleSyncNow handles POST /pos/sync: one manual sync sweep.
func (h *posHandler) handleSyncNow(ctx *gin.Context) {
	res, err := h.orch.SyncPendingTransactions(ctx.Request.Context())
	if err != nil {
		h.logger.Error("manual sync failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// handleQueueStats handles GET /pos/queue/stats.
func (h *posHandler) handleQueueStats(ctx *gin.Context) {
	stats, err := h.manager.GetQueueStats()
	if err != nil {
		h.logger.Error("failed to compute queue stats", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

// handleClearFailed handles POST /pos/queue/failed/clear: the operator's
// explicit give-up on dead-lettered sales.
func (h *posHandler) handleClearFailed(ctx *gin.Context) {
	cleared, err := h.manager.ClearFailedTransactions()
	if err != nil {
		h.logger.Error("failed to clear dead-lettered sales", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear failed transactions"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// handleNetworkStatus handles GET /pos/network.
func (h *posHandler) handleNetworkStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.monitor.Status())
}

// handleReportNetwork handles PUT /pos/network: the UI feeds the platform
// online/offline signal into the monitor.
func (h *posHandler) handleReportNetwork(ctx *gin.Context) {
	var req struct {
		IsOnline       *bool  `json:"is_online" binding:"required"`
		ConnectionType string `json:"connection_type"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	h.monitor.ReportConnectivity(*req.IsOnline, req.ConnectionType)
	ctx.JSON(http.StatusOK, h.monitor.Status())
}

// handleCatalogRefresh handles POST /pos/catalog/refresh.
func (h *posHandler) handleCatalogRefresh(ctx *gin.Context) {
	if err := h.cache.Refresh(ctx.Request.Context()); err != nil {
		if errors.Is(err, catalog.ErrOffline) {
			ctx.JSON(http.StatusConflict, gin.H{"error": "cannot refresh catalog while offline"})
			return
		}
		h.logger.Error("catalog refresh failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, gin.H{"error": "catalog refresh failed"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": h.cache.Len()})
}

// handleCatalogLookup handles GET /pos/catalog/:code where code is a
// product id or barcode.
func (h *posHandler) handleCatalogLookup(ctx *gin.Context) {
	code := ctx.Param("code")
	product, ok := h.cache.Lookup(code)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "product not in cache"})
		return
	}
	ctx.JSON(http.StatusOK, product)
}
