package queue

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos_offline/internal/netmon"
)

// Config carries the sync policy knobs. Explicit so tests can exercise
// ceiling and interval behavior without waiting real minutes.
type Config struct {
	// RetryCeiling is the number of failed attempts after which a
	// transaction is dead-lettered and left for the operator.
	RetryCeiling int
	// SweepInterval is how often the periodic sync sweep runs while online.
	SweepInterval time.Duration
	// StabilizeDelay is the pause between an offline-to-online transition
	// and the sweep it triggers, letting flapping connectivity settle.
	StabilizeDelay time.Duration
	// SubmitTimeout bounds each individual sale submission.
	SubmitTimeout time.Duration
}

// DefaultConfig returns the production sync policy.
func DefaultConfig() Config {
	return Config{
		RetryCeiling:   5,
		SweepInterval:  5 * time.Minute,
		StabilizeDelay: time.Second,
		SubmitTimeout:  10 * time.Second,
	}
}

// Stats is the read-only diagnostic view of the queue.
type Stats struct {
	PendingTransactions int        `json:"pending_transactions"`
	FailedTransactions  int        `json:"failed_transactions"`
	LastSyncAttempt     *time.Time `json:"last_sync_attempt,omitempty"`
	NextSyncAttempt     *time.Time `json:"next_sync_attempt,omitempty"`
}

// Manager is the single entry point for enqueueing and querying offline
// sales. All queue mutation funnels through here, which is what centralizes
// the ordering and no-double-submit invariants.
type Manager struct {
	storage Storage
	monitor *netmon.Monitor
	logger  *zap.Logger
	cfg     Config

	mu       sync.Mutex
	inFlight map[string]struct{}
	syncHook func(id string)
}

// NewManager creates a Manager on top of a durable Storage.
func NewManager(storage Storage, monitor *netmon.Monitor, logger *zap.Logger, cfg Config) *Manager {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Manager{
		storage:  storage,
		monitor:  monitor,
		logger:   logger,
		cfg:      cfg,
		inFlight: map[string]struct{}{},
	}
}

// setSyncHook registers the orchestrator callback fired after a sale is
// queued while already online.
func (m *Manager) setSyncHook(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncHook = fn
}

// QueueTransaction validates and durably persists a sale, returning its
// fresh local id. The sale is always queued first even when the monitor
// reports online: connectivity can flap, and a sale is not captured until
// the write succeeds. If online, an immediate sync of just this record is
// triggered asynchronously.
func (m *Manager) QueueTransaction(draft SaleDraft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}

	tx := newQueuedTransaction(draft, time.Now())
	if err := m.storage.Put(tx); err != nil {
		m.logger.Error("failed to persist queued sale",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return "", fmt.Errorf("queue transaction: %w", err)
	}

	m.logger.Info("sale queued",
		zap.String("transaction_id", tx.ID),
		zap.String("payment_method", string(tx.PaymentMethod)),
		zap.String("total", tx.Total.String()),
		zap.Bool("online", m.monitor.Status().IsOnline))

	if m.monitor.Status().IsOnline {
		m.mu.Lock()
		hook := m.syncHook
		m.mu.Unlock()
		if hook != nil {
			go hook(tx.ID)
		}
	}
	return tx.ID, nil
}

// Pending returns the transactions still eligible for sync, oldest first.
func (m *Manager) Pending() ([]*QueuedTransaction, error) {
	return m.storage.GetPending(m.cfg.RetryCeiling)
}

// Get returns a single transaction by id.
func (m *Manager) Get(id string) (*QueuedTransaction, error) {
	return m.storage.Get(id)
}

// GetQueueStats computes the diagnostic counters. Pending counts records a
// sweep would still pick up; failed counts dead-lettered ones. Never
// mutates state.
func (m *Manager) GetQueueStats() (Stats, error) {
	txs, err := m.storage.GetAll()
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	var stats Stats
	for _, tx := range txs {
		switch {
		case eligible(tx, m.cfg.RetryCeiling):
			stats.PendingTransactions++
		case tx.Status == StatusFailed:
			stats.FailedTransactions++
		}
	}
	if t := m.metadataTime(MetaLastSyncAttempt); t != nil {
		stats.LastSyncAttempt = t
	}
	// The periodic sweep is suspended while offline, so a predicted next
	// attempt recorded before the drop would be a lie. Only advertise it
	// when the connection is up.
	if m.monitor.Status().IsOnline {
		if t := m.metadataTime(MetaNextSyncAttempt); t != nil {
			stats.NextSyncAttempt = t
		}
	}
	return stats, nil
}

// ClearFailedTransactions moves dead-lettered records out of the active
// queue without resubmitting them. This is an explicit operator decision to
// lose those sales, so the records go to the dedicated cleared status
// instead of masquerading as synced.
func (m *Manager) ClearFailedTransactions() (int, error) {
	txs, err := m.storage.GetAll()
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	cleared := 0
	for _, tx := range txs {
		if tx.Status != StatusFailed || tx.SyncAttempts < m.cfg.RetryCeiling {
			continue
		}
		if err := m.storage.UpdateStatus(tx.ID, StatusCleared, tx.SyncAttempts, tx.LastError); err != nil {
			return cleared, fmt.Errorf("clear failed %s: %w", tx.ID, err)
		}
		m.logger.Warn("dead-lettered sale cleared by operator",
			zap.String("transaction_id", tx.ID),
			zap.String("last_error", tx.LastError))
		cleared++
	}
	return cleared, nil
}

// beginSync claims a record for submission. Returns false if another sync
// already has it in flight; that caller must not submit.
func (m *Manager) beginSync(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

// endSync releases a claim taken by beginSync.
func (m *Manager) endSync(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}

// markSynced records a remote acknowledgment. Attempts are left as they
// were; success does not consume retry budget.
func (m *Manager) markSynced(id string, attempts int) error {
	return m.storage.UpdateStatus(id, StatusSynced, attempts, "")
}

// markFailed records one more failed attempt.
func (m *Manager) markFailed(id string, attempts int, lastError string) error {
	return m.storage.UpdateStatus(id, StatusFailed, attempts, lastError)
}

// deadLetter pins a record at the retry ceiling so no sweep picks it up
// again. Used for validation rejections that can never succeed.
func (m *Manager) deadLetter(id string, lastError string) error {
	return m.storage.UpdateStatus(id, StatusFailed, m.cfg.RetryCeiling, lastError)
}

func (m *Manager) metadataTime(key string) *time.Time {
	raw, err := m.storage.GetMetadata(key)
	if err != nil || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}
