package queue

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a transaction with the given ID is not found.
var ErrNotFound = errors.New("transaction not found")

// ErrEmptyID is returned when trying to store a transaction with an empty ID.
var ErrEmptyID = errors.New("empty transaction ID")

// Metadata keys used by the sync path.
const (
	MetaLastSyncAttempt = "last_sync_attempt"
	MetaLastSyncSuccess = "last_sync_success"
	MetaNextSyncAttempt = "next_sync_attempt"
)

// Storage is the durable store for queued transactions. Implementations must
// never drop a write silently: persistence failures are how a sale gets
// lost, so they always surface as errors.
type Storage interface {
	// Put upserts a transaction by id.
	Put(tx *QueuedTransaction) error
	// Get returns the transaction with the given id, or ErrNotFound.
	Get(id string) (*QueuedTransaction, error)
	// GetAll returns every stored transaction regardless of status.
	GetAll() ([]*QueuedTransaction, error)
	// GetPending returns transactions still eligible for sync: pending, or
	// failed with fewer than maxAttempts attempts. Ordered oldest first so
	// sales replay in the order they happened.
	GetPending(maxAttempts int) ([]*QueuedTransaction, error)
	// UpdateStatus rewrites the sync-owned fields of an existing record.
	// Returns ErrNotFound if the id is absent rather than no-opping.
	UpdateStatus(id string, status TransactionStatus, attempts int, lastError string) error
	// GetMetadata reads a bookkeeping value; missing keys return "".
	GetMetadata(key string) (string, error)
	// SetMetadata writes a bookkeeping value.
	SetMetadata(key, value string) error
}

// LocalStorage provides an in-memory implementation of Storage. It keeps
// insertion order explicitly since map iteration would lose it.
type LocalStorage struct {
	mu    sync.RWMutex
	m     map[string]*QueuedTransaction
	order []string
	meta  map[string]string
}

// NewLocalStorage instantiates an empty in-memory store.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m:    map[string]*QueuedTransaction{},
		meta: map[string]string{},
	}
}

// Put upserts a transaction. Returns ErrEmptyID if the id is empty.
func (l *LocalStorage) Put(tx *QueuedTransaction) error {
	if tx.ID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.m[tx.ID]; !exists {
		l.order = append(l.order, tx.ID)
	}
	cp := *tx
	l.m[tx.ID] = &cp
	return nil
}

func (l *LocalStorage) Get(id string) (*QueuedTransaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (l *LocalStorage) GetAll() ([]*QueuedTransaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	txs := make([]*QueuedTransaction, 0, len(l.order))
	for _, id := range l.order {
		cp := *l.m[id]
		txs = append(txs, &cp)
	}
	return txs, nil
}

func (l *LocalStorage) GetPending(maxAttempts int) ([]*QueuedTransaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var txs []*QueuedTransaction
	for _, id := range l.order {
		tx := l.m[id]
		if eligible(tx, maxAttempts) {
			cp := *tx
			txs = append(txs, &cp)
		}
	}
	return txs, nil
}

func (l *LocalStorage) UpdateStatus(id string, status TransactionStatus, attempts int, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.m[id]
	if !ok {
		return ErrNotFound
	}
	tx.Status = status
	tx.SyncAttempts = attempts
	tx.LastError = lastError
	return nil
}

func (l *LocalStorage) GetMetadata(key string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta[key], nil
}

func (l *LocalStorage) SetMetadata(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meta[key] = value
	return nil
}

// eligible reports whether a record should be picked up by a sync sweep.
func eligible(tx *QueuedTransaction, maxAttempts int) bool {
	switch tx.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return tx.SyncAttempts < maxAttempts
	default:
		return false
	}
}
