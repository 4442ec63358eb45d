// Package store is the SQLite-backed durable store for the offline queue.
// It keeps queued transactions, the cached product snapshot, and a small
// sync bookkeeping table across process restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"pos_offline/internal/catalog"
	"pos_offline/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS queued_transactions (
	id            TEXT PRIMARY KEY,
	payload       TEXT NOT NULL,
	queued_at     INTEGER NOT NULL,
	status        TEXT NOT NULL,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_queued_transactions_status
	ON queued_transactions(status, queued_at);

CREATE TABLE IF NOT EXISTS cached_products (
	id           INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	sku          TEXT NOT NULL,
	barcode      TEXT NOT NULL,
	price        TEXT NOT NULL,
	stock        INTEGER NOT NULL,
	category     TEXT NOT NULL,
	brand        TEXT NOT NULL,
	status       TEXT NOT NULL,
	last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLiteStore implements queue.Storage and catalog.Store on a single
// embedded database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at dataDir/pos_offline.db.
// WAL mode and a single writer, which is all SQLite supports anyway.
func Open(dataDir string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "pos_offline.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("durable store opened", zap.String("path", dbPath))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts a transaction by id. The sale payload is stored as a JSON
// envelope; the lifecycle fields get their own columns so sweeps can query
// them without unmarshalling every record.
func (s *SQLiteStore) Put(tx *queue.QueuedTransaction) error {
	if tx.ID == "" {
		return queue.ErrEmptyID
	}
	payload, err := json.Marshal(tx.SaleDraft)
	if err != nil {
		return fmt.Errorf("marshal sale payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO queued_transactions (id, payload, queued_at, status, sync_attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			status = excluded.status,
			sync_attempts = excluded.sync_attempts,
			last_error = excluded.last_error`,
		tx.ID, string(payload), tx.QueuedAt.UnixNano(), string(tx.Status), tx.SyncAttempts, tx.LastError)
	if err != nil {
		return fmt.Errorf("persist transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Get returns a single transaction or queue.ErrNotFound.
func (s *SQLiteStore) Get(id string) (*queue.QueuedTransaction, error) {
	row := s.db.QueryRow(`
		SELECT id, payload, queued_at, status, sync_attempts, last_error
		FROM queued_transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	return tx, err
}

// GetAll returns every stored transaction, oldest first.
func (s *SQLiteStore) GetAll() ([]*queue.QueuedTransaction, error) {
	return s.query(`
		SELECT id, payload, queued_at, status, sync_attempts, last_error
		FROM queued_transactions
		ORDER BY queued_at, rowid`)
}

// GetPending returns sync-eligible transactions in insertion order, so
// sales replay in the order they were rung up.
func (s *SQLiteStore) GetPending(maxAttempts int) ([]*queue.QueuedTransaction, error) {
	return s.query(`
		SELECT id, payload, queued_at, status, sync_attempts, last_error
		FROM queued_transactions
		WHERE status = ? OR (status = ? AND sync_attempts < ?)
		ORDER BY queued_at, rowid`,
		string(queue.StatusPending), string(queue.StatusFailed), maxAttempts)
}

// UpdateStatus rewrites the sync-owned fields. A missing id is an error,
// not a silent no-op.
func (s *SQLiteStore) UpdateStatus(id string, status queue.TransactionStatus, attempts int, lastError string) error {
	res, err := s.db.Exec(`
		UPDATE queued_transactions
		SET status = ?, sync_attempts = ?, last_error = ?
		WHERE id = ?`,
		string(status), attempts, lastError, id)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", id, err)
	}
	if n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// GetMetadata reads a bookkeeping value; missing keys return "".
func (s *SQLiteStore) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts a bookkeeping value.
func (s *SQLiteStore) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("write metadata %s: %w", key, err)
	}
	return nil
}

// ReplaceProducts swaps the whole cached snapshot inside one transaction.
// Readers see the old generation or the new one, never a mix.
func (s *SQLiteStore) ReplaceProducts(products []catalog.Product) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace products: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(`DELETE FROM cached_products`); err != nil {
		return fmt.Errorf("clear product cache: %w", err)
	}
	stmt, err := dbTx.Prepare(`
		INSERT INTO cached_products (id, name, sku, barcode, price, stock, category, brand, status, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace products: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		_, err := stmt.Exec(p.ID, p.Name, p.SKU, p.Barcode, p.Price.String(),
			p.Stock, p.Category, p.Brand, p.Status, p.LastUpdated.UnixNano())
		if err != nil {
			return fmt.Errorf("cache product %d: %w", p.ID, err)
		}
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("replace products: %w", err)
	}
	return nil
}

// LoadProducts returns the persisted snapshot.
func (s *SQLiteStore) LoadProducts() ([]catalog.Product, error) {
	rows, err := s.db.Query(`
		SELECT id, name, sku, barcode, price, stock, category, brand, status, last_updated
		FROM cached_products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		var p catalog.Product
		var lastUpdated int64
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Barcode, &p.Price,
			&p.Stock, &p.Category, &p.Brand, &p.Status, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.LastUpdated = time.Unix(0, lastUpdated)
		products = append(products, p)
	}
	return products, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*queue.QueuedTransaction, error) {
	var (
		tx       queue.QueuedTransaction
		payload  string
		queuedAt int64
		status   string
	)
	if err := row.Scan(&tx.ID, &payload, &queuedAt, &status, &tx.SyncAttempts, &tx.LastError); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &tx.SaleDraft); err != nil {
		return nil, fmt.Errorf("unmarshal sale payload %s: %w", tx.ID, err)
	}
	tx.QueuedAt = time.Unix(0, queuedAt)
	tx.Status = queue.TransactionStatus(status)
	return &tx, nil
}

func (s *SQLiteStore) query(q string, args ...any) ([]*queue.QueuedTransaction, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*queue.QueuedTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
