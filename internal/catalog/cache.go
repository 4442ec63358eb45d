// Package catalog keeps a local snapshot of the product catalog so the POS
// can look up prices and barcodes while disconnected.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos_offline/internal/netmon"
	"pos_offline/internal/remote"
)

// ErrOffline is returned when a refresh is requested while disconnected.
var ErrOffline = errors.New("cannot refresh catalog while offline")

// MetaLastProductSync records when the snapshot was last replaced.
const MetaLastProductSync = "last_product_sync"

// Product is one cached catalog entry, frozen at refresh time.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	Status      string          `json:"status"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Store persists the snapshot across restarts. ReplaceProducts must be
// atomic: readers see either the old snapshot or the new one, never a mix
// of two sync generations.
type Store interface {
	ReplaceProducts(products []Product) error
	LoadProducts() ([]Product, error)
	SetMetadata(key, value string) error
}

// Fetcher pulls the full product list from the remote catalog endpoint.
type Fetcher interface {
	FetchCatalog(ctx context.Context) ([]remote.Product, error)
}

// Cache is the offline product snapshot. Lookups are synchronous reads of
// an in-memory index; Refresh replaces the whole snapshot at once.
type Cache struct {
	store   Store
	fetcher Fetcher
	monitor *netmon.Monitor
	logger  *zap.Logger

	mu        sync.RWMutex
	byID      map[int64]Product
	byBarcode map[string]Product
}

// NewCache builds a Cache and warm-loads the last persisted snapshot so
// offline lookups work immediately after a restart.
func NewCache(store Store, fetcher Fetcher, monitor *netmon.Monitor, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	c := &Cache{
		store:     store,
		fetcher:   fetcher,
		monitor:   monitor,
		logger:    logger,
		byID:      map[int64]Product{},
		byBarcode: map[string]Product{},
	}
	products, err := store.LoadProducts()
	if err != nil {
		return nil, fmt.Errorf("load cached catalog: %w", err)
	}
	c.index(products)
	if len(products) > 0 {
		logger.Info("catalog cache warm-loaded", zap.Int("products", len(products)))
	}
	return c, nil
}

// Refresh pulls the full catalog and replaces the snapshot. Only runs while
// online; there is no partial merge, a stale-but-consistent snapshot beats
// a mixed one.
func (c *Cache) Refresh(ctx context.Context) error {
	if !c.monitor.Status().IsOnline {
		return ErrOffline
	}
	fetched, err := c.fetcher.FetchCatalog(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	now := time.Now()
	products := make([]Product, 0, len(fetched))
	for _, p := range fetched {
		products = append(products, Product{
			ID:          p.ID,
			Name:        p.Name,
			SKU:         p.SKU,
			Barcode:     p.Barcode,
			Price:       p.Price,
			Stock:       p.Stock,
			Category:    p.Category,
			Brand:       p.Brand,
			Status:      p.Status,
			LastUpdated: now,
		})
	}

	if err := c.store.ReplaceProducts(products); err != nil {
		return fmt.Errorf("persist catalog snapshot: %w", err)
	}
	c.index(products)

	if err := c.store.SetMetadata(MetaLastProductSync, now.Format(time.RFC3339Nano)); err != nil {
		c.logger.Warn("failed to record catalog sync time", zap.Error(err))
	}
	c.logger.Info("catalog cache refreshed", zap.Int("products", len(products)))
	return nil
}

// Lookup finds a product by numeric id or barcode. code is matched against
// the barcode index first, which is the scanner path.
func (c *Cache) Lookup(code string) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.byBarcode[code]; ok {
		return p, true
	}
	if id, err := strconv.ParseInt(code, 10, 64); err == nil {
		if p, ok := c.byID[id]; ok {
			return p, true
		}
	}
	return Product{}, false
}

// Len returns the number of cached products.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// index swaps in a new snapshot wholesale.
func (c *Cache) index(products []Product) {
	byID := make(map[int64]Product, len(products))
	byBarcode := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
		if p.Barcode != "" {
			byBarcode[p.Barcode] = p
		}
	}
	c.mu.Lock()
	c.byID = byID
	c.byBarcode = byBarcode
	c.mu.Unlock()
}
