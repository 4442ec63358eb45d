package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos_offline/internal/netmon"
	"pos_offline/internal/remote"
)

// SaleSubmitter is the slice of the remote client the orchestrator needs.
type SaleSubmitter interface {
	SubmitSale(ctx context.Context, sub remote.SaleSubmission) (string, error)
}

// Result counts the outcomes of one sync sweep. Records skipped because
// they are dead-lettered or already in flight count as neither.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Orchestrator drains the pending queue against the remote sale endpoint.
// It reacts to connectivity transitions, runs the periodic sweep while
// online, and keeps the sweep single-flight.
type Orchestrator struct {
	manager   *Manager
	monitor   *netmon.Monitor
	submitter SaleSubmitter
	logger    *zap.Logger
	cfg       Config

	sweepMu sync.Mutex

	events chan netmon.Status
	unsub  func()
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewOrchestrator wires an Orchestrator to its manager. It also registers
// itself as the manager's hook for the queued-while-online fast path.
func NewOrchestrator(manager *Manager, monitor *netmon.Monitor, submitter SaleSubmitter, logger *zap.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	o := &Orchestrator{
		manager:   manager,
		monitor:   monitor,
		submitter: submitter,
		logger:    logger,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	manager.setSyncHook(o.syncOne)
	return o
}

// Start launches the trigger loop: a sweep shortly after every
// offline-to-online transition, plus the periodic sweep while online. The
// periodic timer is torn down the moment the monitor reports offline, so no
// background timer fires network calls while known-offline.
func (o *Orchestrator) Start() {
	o.events = make(chan netmon.Status, 16)
	o.unsub = o.monitor.Subscribe(func(s netmon.Status) {
		select {
		case o.events <- s:
		default:
		}
	})
	go o.run()
}

// Stop cancels the trigger loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.once.Do(func() { close(o.stop) })
	<-o.done
	if o.unsub != nil {
		o.unsub()
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)

	var (
		online    bool
		ticker    *time.Ticker
		tickC     <-chan time.Time
		stabilize *time.Timer
		stabC     <-chan time.Time
	)
	stopTimers := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickC = nil, nil
		}
		if stabilize != nil {
			stabilize.Stop()
			stabilize, stabC = nil, nil
		}
	}
	defer stopTimers()

	for {
		select {
		case s := <-o.events:
			switch {
			case s.IsOnline && !online:
				online = true
				o.logger.Info("back online, scheduling sync sweep",
					zap.Duration("stabilize_delay", o.cfg.StabilizeDelay))
				stabilize = time.NewTimer(o.cfg.StabilizeDelay)
				stabC = stabilize.C
				ticker = time.NewTicker(o.cfg.SweepInterval)
				tickC = ticker.C
			case !s.IsOnline && online:
				online = false
				o.logger.Info("offline, periodic sync suspended")
				stopTimers()
			}
		case <-stabC:
			stabC = nil
			o.sweep()
		case <-tickC:
			o.sweep()
		case <-o.stop:
			return
		}
	}
}

func (o *Orchestrator) sweep() {
	if _, err := o.SyncPendingTransactions(context.Background()); err != nil {
		o.logger.Error("sync sweep failed", zap.Error(err))
	}
}

// SyncPendingTransactions runs one sync sweep: every eligible record,
// oldest first, each submitted at most once. A sweep invoked while another
// is in flight is skipped rather than queued; the caller gets zero counts.
// While offline it is a no-op that performs no network I/O.
func (o *Orchestrator) SyncPendingTransactions(ctx context.Context) (Result, error) {
	if !o.monitor.Status().IsOnline {
		return Result{}, nil
	}
	if !o.sweepMu.TryLock() {
		o.logger.Debug("sync sweep already in flight, skipping")
		return Result{}, nil
	}
	defer o.sweepMu.Unlock()

	now := time.Now()
	o.recordMetadata(MetaLastSyncAttempt, now)
	o.recordMetadata(MetaNextSyncAttempt, now.Add(o.cfg.SweepInterval))

	pending, err := o.manager.Pending()
	if err != nil {
		return Result{}, fmt.Errorf("sync sweep: %w", err)
	}

	var res Result
	for _, tx := range pending {
		// Connectivity can drop mid-sweep; stop submitting the moment it does.
		if !o.monitor.Status().IsOnline {
			break
		}
		switch o.submitOne(ctx, tx) {
		case outcomeSynced:
			res.Success++
		case outcomeFailed:
			res.Failed++
		}
	}

	if res.Success > 0 {
		o.recordMetadata(MetaLastSyncSuccess, time.Now())
	}
	o.logger.Info("sync sweep finished",
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed),
		zap.Int("eligible", len(pending)))
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeFailed
)

// submitOne pushes a single record to the remote endpoint and records the
// result. Classification happens here rather than propagating: one bad
// record must not abort the sweep for the rest of the queue.
func (o *Orchestrator) submitOne(ctx context.Context, tx *QueuedTransaction) outcome {
	if tx.SyncAttempts >= o.cfg.RetryCeiling {
		return outcomeSkipped
	}
	if !o.manager.beginSync(tx.ID) {
		o.logger.Debug("transaction already syncing", zap.String("transaction_id", tx.ID))
		return outcomeSkipped
	}
	defer o.manager.endSync(tx.ID)

	// The snapshot may be stale by the time the claim succeeds: the
	// queued-while-online fast path can have acknowledged this record while
	// the sweep was working through earlier ones. Re-read and submit only
	// if it is still eligible.
	current, err := o.manager.Get(tx.ID)
	if err != nil {
		o.logger.Error("transaction vanished during sweep",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return outcomeSkipped
	}
	if !eligible(current, o.cfg.RetryCeiling) {
		return outcomeSkipped
	}
	tx = current

	cctx, cancel := context.WithTimeout(ctx, o.cfg.SubmitTimeout)
	defer cancel()

	serverID, err := o.submitter.SubmitSale(cctx, toSubmission(tx))
	if err == nil {
		if err := o.manager.markSynced(tx.ID, tx.SyncAttempts); err != nil {
			o.logger.Error("sale acknowledged but status write failed",
				zap.String("transaction_id", tx.ID), zap.Error(err))
			return outcomeFailed
		}
		o.logger.Info("offline sale synced",
			zap.String("transaction_id", tx.ID),
			zap.String("server_sale_id", serverID))
		return outcomeSynced
	}

	if errors.Is(err, remote.ErrValidation) {
		// The server will never accept this sale; retrying only wastes the
		// budget. Pin it at the ceiling for the operator to resolve.
		if derr := o.manager.deadLetter(tx.ID, err.Error()); derr != nil {
			o.logger.Error("failed to dead-letter transaction",
				zap.String("transaction_id", tx.ID), zap.Error(derr))
		}
		o.logger.Warn("sale rejected by server, dead-lettered",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return outcomeFailed
	}

	attempts := tx.SyncAttempts + 1
	if merr := o.manager.markFailed(tx.ID, attempts, err.Error()); merr != nil {
		o.logger.Error("failed to record sync failure",
			zap.String("transaction_id", tx.ID), zap.Error(merr))
	}
	o.logger.Warn("sync attempt failed",
		zap.String("transaction_id", tx.ID),
		zap.Int("attempts", attempts),
		zap.Int("retry_ceiling", o.cfg.RetryCeiling),
		zap.Error(err))
	return outcomeFailed
}

// syncOne is the fast path for a sale queued while already online: one
// record, same claim and classification rules as a sweep.
func (o *Orchestrator) syncOne(id string) {
	if !o.monitor.Status().IsOnline {
		return
	}
	tx, err := o.manager.Get(id)
	if err != nil {
		o.logger.Error("queued sale vanished before sync", zap.String("transaction_id", id), zap.Error(err))
		return
	}
	if tx.Status != StatusPending {
		return
	}
	o.submitOne(context.Background(), tx)
}

// toSubmission translates a queued record into the remote contract. The
// local id rides along in the notes so the server side can trace and
// de-duplicate replays.
func toSubmission(tx *QueuedTransaction) remote.SaleSubmission {
	items := make([]remote.SubmissionItem, 0, len(tx.Items))
	for _, it := range tx.Items {
		items = append(items, remote.SubmissionItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		})
	}
	amountPaid := tx.AmountPaid
	if amountPaid.IsZero() {
		amountPaid = tx.Total
	}
	return remote.SaleSubmission{
		Items:         items,
		Subtotal:      tx.Subtotal,
		Discount:      tx.Discount,
		Total:         tx.Total,
		AmountPaid:    amountPaid,
		PaymentMethod: string(tx.PaymentMethod),
		CustomerName:  tx.CustomerName,
		CustomerPhone: tx.CustomerPhone,
		CustomerEmail: tx.CustomerEmail,
		Notes: fmt.Sprintf("Offline sale %s captured %s by %s",
			tx.ID, tx.QueuedAt.Format(time.RFC3339), tx.StaffName),
	}
}

func (o *Orchestrator) recordMetadata(key string, t time.Time) {
	if err := o.manager.storage.SetMetadata(key, t.Format(time.RFC3339Nano)); err != nil {
		o.logger.Warn("failed to record sync metadata", zap.String("key", key), zap.Error(err))
	}
}
