package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pos_offline/internal/remote"
)

// fakeSubmitter records submissions and plays back scripted responses.
type fakeSubmitter struct {
	mu        sync.Mutex
	calls     []submittedCall
	responses []submitResponse
	entered   chan struct{} // if set, signalled on call entry
	release   chan struct{} // if set, gated calls wait on it
	gateNotes string        // if set, only calls whose notes match are gated
	nextID    int
}

type submittedCall struct {
	Notes string
}

type submitResponse struct {
	err error
}

func (f *fakeSubmitter) failNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.responses = append(f.responses, submitResponse{err: err})
	}
}

func (f *fakeSubmitter) SubmitSale(ctx context.Context, sub remote.SaleSubmission) (string, error) {
	if f.gateNotes == "" || strings.Contains(sub.Notes, f.gateNotes) {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		if f.release != nil {
			<-f.release
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submittedCall{Notes: sub.Notes})
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		if resp.err != nil {
			return "", resp.err
		}
	}
	f.nextID++
	return fmt.Sprintf("srv-%d", f.nextID), nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubmitter) callNotes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	notes := make([]string, len(f.calls))
	for i, c := range f.calls {
		notes[i] = c.Notes
	}
	return notes
}

func newTestOrchestrator(t *testing.T, online bool) (*Orchestrator, *Manager, *LocalStorage, *fakeSubmitter) {
	t.Helper()
	storage := NewLocalStorage()
	var monitor = offlineMonitor(t)
	if online {
		monitor = onlineMonitor(t)
	}
	sub := &fakeSubmitter{}
	m := NewManager(storage, monitor, zaptest.NewLogger(t), testConfig())
	o := NewOrchestrator(m, monitor, sub, zaptest.NewLogger(t), testConfig())
	return o, m, storage, sub
}

func TestSyncPending_OfflineIsNoop(t *testing.T) {
	o, m, _, sub := newTestOrchestrator(t, false)

	_, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	res, err := o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 0, Failed: 0}, res)
	assert.Zero(t, sub.callCount(), "no network I/O while known-offline")
}

func TestSyncPending_SubmitsInChronologicalOrder(t *testing.T) {
	o, m, _, sub := newTestOrchestrator(t, false)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.QueueTransaction(testDraft())
		require.NoError(t, err)
		ids = append(ids, id)
	}

	o.monitor.SetOnline(true)
	res, err := o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 3, Failed: 0}, res)

	notes := sub.callNotes()
	require.Len(t, notes, 3)
	for i, id := range ids {
		assert.Contains(t, notes[i], id, "sale %d submitted out of order", i)
	}
}

func TestSyncPending_FailureThenRecovery(t *testing.T) {
	o, m, storage, sub := newTestOrchestrator(t, true)

	id, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	sub.failNext(1, errors.New("remote returned status 500"))
	res, err := o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 0, Failed: 1}, res)

	tx, err := storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, 1, tx.SyncAttempts)
	assert.Contains(t, tx.LastError, "500")

	res, err = o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 1, Failed: 0}, res)

	tx, err = storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, tx.Status)
	assert.Equal(t, 1, tx.SyncAttempts, "success must not consume retry budget")
	assert.Empty(t, tx.LastError)
}

func TestSyncPending_RetryCeilingExcludesDeadLetters(t *testing.T) {
	o, m, storage, sub := newTestOrchestrator(t, true)
	ceiling := testConfig().RetryCeiling

	id, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	sub.failNext(ceiling, errors.New("connection refused"))
	for i := 0; i < ceiling; i++ {
		res, err := o.SyncPendingTransactions(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{Success: 0, Failed: 1}, res)
	}

	tx, err := storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, ceiling, tx.SyncAttempts)

	// Sweep number ceiling+1 must not touch the record.
	before := sub.callCount()
	res, err := o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, before, sub.callCount(), "dead-lettered sale submitted again")

	stats, err := m.GetQueueStats()
	require.NoError(t, err)
	assert.Zero(t, stats.PendingTransactions)
	assert.Equal(t, 1, stats.FailedTransactions)
}

func TestSyncPending_ValidationRejectionDeadLettersImmediately(t *testing.T) {
	o, m, storage, sub := newTestOrchestrator(t, true)
	ceiling := testConfig().RetryCeiling

	id, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	sub.failNext(1, fmt.Errorf("%w: product 1 no longer exists", remote.ErrValidation))
	res, err := o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 0, Failed: 1}, res)

	tx, err := storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, ceiling, tx.SyncAttempts, "validation rejection must be pinned at the ceiling")
	assert.Contains(t, tx.LastError, "no longer exists")

	before := sub.callCount()
	_, err = o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, sub.callCount())
}

func TestSyncPending_ConcurrentSweepsDoNotDoubleSubmit(t *testing.T) {
	o, m, _, sub := newTestOrchestrator(t, true)
	sub.entered = make(chan struct{}, 1)
	sub.release = make(chan struct{})

	_, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	firstDone := make(chan Result, 1)
	go func() {
		res, _ := o.SyncPendingTransactions(context.Background())
		firstDone <- res
	}()

	// Wait until the first sweep is inside the submitter, then invoke a
	// second sweep: it must be skipped, not queued behind the first.
	select {
	case <-sub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep never reached the submitter")
	}
	res, err := o.SyncPendingTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	close(sub.release)
	select {
	case first := <-firstDone:
		assert.Equal(t, Result{Success: 1, Failed: 0}, first)
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep never finished")
	}
	assert.Equal(t, 1, sub.callCount(), "record submitted more than once")
}

func TestSweep_SkipsRecordSyncedByFastPathMidSweep(t *testing.T) {
	o, m, storage, sub := newTestOrchestrator(t, false)

	idA, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)
	idB, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	o.monitor.SetOnline(true)
	sub.gateNotes = idA
	sub.entered = make(chan struct{}, 1)
	sub.release = make(chan struct{})

	sweepDone := make(chan Result, 1)
	go func() {
		res, _ := o.SyncPendingTransactions(context.Background())
		sweepDone <- res
	}()

	// Stall the sweep inside the first record's submission, then drive the
	// second record through the queued-while-online path to completion.
	select {
	case <-sub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reached the submitter")
	}
	o.syncOne(idB)

	txB, err := storage.Get(idB)
	require.NoError(t, err)
	require.Equal(t, StatusSynced, txB.Status)

	// The resumed sweep holds a snapshot of B taken before it was synced;
	// it must notice the acknowledgement and leave B alone.
	close(sub.release)
	select {
	case res := <-sweepDone:
		assert.Equal(t, Result{Success: 1, Failed: 0}, res)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never finished")
	}

	submitted := 0
	for _, notes := range sub.callNotes() {
		if strings.Contains(notes, idB) {
			submitted++
		}
	}
	assert.Equal(t, 1, submitted, "already-acknowledged sale submitted again")
}

func TestQueueWhileOnline_SyncsSingleRecord(t *testing.T) {
	o, m, storage, sub := newTestOrchestrator(t, true)
	_ = o // hook registered by NewOrchestrator

	id, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tx, err := storage.Get(id)
		return err == nil && tx.Status == StatusSynced
	}, 2*time.Second, 10*time.Millisecond, "sale queued while online was not synced")
	assert.Equal(t, 1, sub.callCount())
}

func TestOrchestrator_OnlineTransitionTriggersSweep(t *testing.T) {
	storage := NewLocalStorage()
	monitor := offlineMonitor(t)
	sub := &fakeSubmitter{}
	cfg := testConfig()
	cfg.SweepInterval = time.Hour // isolate the transition trigger
	m := NewManager(storage, monitor, zaptest.NewLogger(t), cfg)
	o := NewOrchestrator(m, monitor, sub, zaptest.NewLogger(t), cfg)

	id, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)

	o.Start()
	defer o.Stop()

	monitor.SetOnline(true)

	require.Eventually(t, func() bool {
		tx, err := storage.Get(id)
		return err == nil && tx.Status == StatusSynced
	}, 2*time.Second, 10*time.Millisecond, "transition to online did not trigger a sweep")
}

func TestOrchestrator_PeriodicSweepStopsWhileOffline(t *testing.T) {
	storage := NewLocalStorage()
	monitor := onlineMonitor(t)
	sub := &fakeSubmitter{}
	cfg := testConfig()
	cfg.StabilizeDelay = 5 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	m := NewManager(storage, monitor, zaptest.NewLogger(t), cfg)
	o := NewOrchestrator(m, monitor, sub, zaptest.NewLogger(t), cfg)

	o.Start()
	defer o.Stop()

	// The subscribe-time snapshot arms the timers even without a fresh
	// transition; wait for at least one sweep to prove the ticker runs.
	sub.failNext(100, errors.New("unreachable"))
	id, err := m.QueueTransaction(testDraft())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tx, err := storage.Get(id)
		return err == nil && tx.SyncAttempts >= 1
	}, 2*time.Second, 5*time.Millisecond)

	monitor.SetOnline(false)
	time.Sleep(50 * time.Millisecond) // let an in-flight sweep drain
	before := sub.callCount()
	time.Sleep(5 * cfg.SweepInterval)
	assert.Equal(t, before, sub.callCount(), "periodic sweep fired while offline")
}

func TestToSubmission_EmbedsLocalID(t *testing.T) {
	tx := newQueuedTransaction(testDraft(), time.Now())
	sub := toSubmission(tx)

	assert.True(t, strings.Contains(sub.Notes, tx.ID))
	assert.True(t, strings.Contains(sub.Notes, "Ada"))
	assert.Equal(t, "cash", sub.PaymentMethod)
	require.Len(t, sub.Items, 1)
	assert.True(t, sub.AmountPaid.Equal(tx.Total), "zero amount paid defaults to total")
}
