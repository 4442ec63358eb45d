package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos_offline/internal/netmon"
	"pos_offline/internal/remote"
)

// memStore is an in-memory catalog.Store.
type memStore struct {
	mu       sync.Mutex
	products []Product
	meta     map[string]string
}

func newMemStore() *memStore {
	return &memStore{meta: map[string]string{}}
}

func (s *memStore) ReplaceProducts(products []Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append([]Product(nil), products...)
	return nil
}

func (s *memStore) LoadProducts() ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Product(nil), s.products...), nil
}

func (s *memStore) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

// fakeFetcher returns a scripted product list.
type fakeFetcher struct {
	mu       sync.Mutex
	products []remote.Product
	err      error
}

func (f *fakeFetcher) set(products []remote.Product, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products, f.err = products, err
}

func (f *fakeFetcher) FetchCatalog(ctx context.Context) ([]remote.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]remote.Product(nil), f.products...), nil
}

func remoteProduct(id int64, name, barcode string, price int64) remote.Product {
	return remote.Product{
		ID:      id,
		Name:    name,
		SKU:     name + "-sku",
		Barcode: barcode,
		Price:   decimal.NewFromInt(price),
		Stock:   10,
		Status:  "active",
	}
}

func newTestCache(t *testing.T, online bool) (*Cache, *memStore, *fakeFetcher, *netmon.Monitor) {
	t.Helper()
	store := newMemStore()
	fetcher := &fakeFetcher{}
	monitor := netmon.NewMonitor(nil, zaptest.NewLogger(t), netmon.Options{InitialOnline: online})
	cache, err := NewCache(store, fetcher, monitor, zaptest.NewLogger(t))
	require.NoError(t, err)
	return cache, store, fetcher, monitor
}

func TestRefresh_OfflineRefuses(t *testing.T) {
	cache, _, fetcher, _ := newTestCache(t, false)
	fetcher.set([]remote.Product{remoteProduct(1, "Widget", "111", 1000)}, nil)

	err := cache.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Zero(t, cache.Len())
}

func TestRefresh_ReplacesNotMerges(t *testing.T) {
	cache, store, fetcher, _ := newTestCache(t, true)

	fetcher.set([]remote.Product{
		remoteProduct(1, "Widget", "111", 1000),
		remoteProduct(2, "Gadget", "222", 500),
	}, nil)
	require.NoError(t, cache.Refresh(context.Background()))
	assert.Equal(t, 2, cache.Len())

	fetcher.set([]remote.Product{
		remoteProduct(3, "Sprocket", "333", 750),
	}, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Lookup("111")
	assert.False(t, ok, "entry from the first generation survived the replace")
	_, ok = cache.Lookup("1")
	assert.False(t, ok)
	p, ok := cache.Lookup("333")
	require.True(t, ok)
	assert.Equal(t, "Sprocket", p.Name)

	persisted, err := store.LoadProducts()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, int64(3), persisted[0].ID)
	assert.NotEmpty(t, store.meta[MetaLastProductSync])
}

func TestLookup_ByIDAndBarcode(t *testing.T) {
	cache, _, fetcher, _ := newTestCache(t, true)
	fetcher.set([]remote.Product{remoteProduct(42, "Widget", "978014300723", 1000)}, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	byBarcode, ok := cache.Lookup("978014300723")
	require.True(t, ok)
	assert.Equal(t, int64(42), byBarcode.ID)
	assert.True(t, byBarcode.Price.Equal(decimal.NewFromInt(1000)))
	assert.False(t, byBarcode.LastUpdated.IsZero())

	byID, ok := cache.Lookup("42")
	require.True(t, ok)
	assert.Equal(t, byBarcode.ID, byID.ID)

	_, ok = cache.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestNewCache_WarmLoadsPersistedSnapshot(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.ReplaceProducts([]Product{{
		ID: 7, Name: "Widget", Barcode: "777",
		Price: decimal.NewFromInt(1000), LastUpdated: time.Now(),
	}}))
	monitor := netmon.NewMonitor(nil, zaptest.NewLogger(t), netmon.Options{InitialOnline: false})

	cache, err := NewCache(store, &fakeFetcher{}, monitor, zaptest.NewLogger(t))
	require.NoError(t, err)

	p, ok := cache.Lookup("777")
	require.True(t, ok, "offline lookups must work right after restart")
	assert.Equal(t, int64(7), p.ID)
}

func TestRefresh_FetchErrorLeavesSnapshotIntact(t *testing.T) {
	cache, _, fetcher, _ := newTestCache(t, true)
	fetcher.set([]remote.Product{remoteProduct(1, "Widget", "111", 1000)}, nil)
	require.NoError(t, cache.Refresh(context.Background()))

	fetcher.set(nil, assert.AnError)
	err := cache.Refresh(context.Background())
	require.Error(t, err)

	p, ok := cache.Lookup("111")
	require.True(t, ok, "failed refresh must not clobber the snapshot")
	assert.Equal(t, "Widget", p.Name)
}
