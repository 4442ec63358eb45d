// Package netmon tracks connectivity for the POS terminal: an authoritative
// online/offline signal reported by the platform, plus a periodic latency
// probe that classifies an online connection as slow.
package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a point-in-time connectivity snapshot.
type Status struct {
	IsOnline         bool      `json:"is_online"`
	IsSlowConnection bool      `json:"is_slow_connection"`
	ConnectionType   string    `json:"connection_type"`
	LastOnlineTime   time.Time `json:"last_online_time,omitzero"`
	LastOfflineTime  time.Time `json:"last_offline_time,omitzero"`
}

// Listener receives status snapshots on every transition.
type Listener func(Status)

// Prober measures round-trip latency to a cheap remote endpoint.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// Options configures a Monitor.
type Options struct {
	// InitialOnline is the connectivity assumed before the first report.
	InitialOnline bool
	// ProbeInterval is how often the latency probe runs while online.
	ProbeInterval time.Duration
	// SlowThreshold is the round-trip above which the connection counts as
	// slow. A failed probe while online also counts as slow; it never flips
	// the online flag, only the platform signal does that.
	SlowThreshold time.Duration
}

// DefaultOptions returns the production probe settings.
func DefaultOptions() Options {
	return Options{
		InitialOnline: true,
		ProbeInterval: 30 * time.Second,
		SlowThreshold: 3 * time.Second,
	}
}

// Monitor owns the current Status and fans transitions out to subscribers.
// Reads are synchronous and never do I/O.
type Monitor struct {
	opts   Options
	prober Prober
	logger *zap.Logger

	mu        sync.Mutex
	status    Status
	listeners map[int]Listener
	nextID    int

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a Monitor. The prober may be nil, in which case slow
// detection is disabled and Start is a no-op.
func NewMonitor(prober Prober, logger *zap.Logger, opts Options) *Monitor {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	now := time.Now()
	status := Status{IsOnline: opts.InitialOnline, ConnectionType: "unknown"}
	if opts.InitialOnline {
		status.LastOnlineTime = now
	} else {
		status.LastOfflineTime = now
	}
	return &Monitor{
		opts:      opts,
		prober:    prober,
		logger:    logger,
		status:    status,
		listeners: map[int]Listener{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ReportConnectivity feeds the platform online/offline signal into the
// monitor. connectionType may be empty to keep the previous value.
func (m *Monitor) ReportConnectivity(online bool, connectionType string) {
	m.mu.Lock()
	changed := m.status.IsOnline != online
	if changed {
		m.status.IsOnline = online
		now := time.Now()
		if online {
			m.status.LastOnlineTime = now
		} else {
			m.status.LastOfflineTime = now
			// Slowness is a property of a live connection.
			m.status.IsSlowConnection = false
		}
	}
	if connectionType != "" && m.status.ConnectionType != connectionType {
		m.status.ConnectionType = connectionType
		changed = true
	}
	status := m.status
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("connectivity changed",
		zap.Bool("online", status.IsOnline),
		zap.String("connection_type", status.ConnectionType))
	for _, fn := range listeners {
		fn(status)
	}
}

// SetOnline is ReportConnectivity without a connection type change.
func (m *Monitor) SetOnline(online bool) {
	m.ReportConnectivity(online, "")
}

// Subscribe registers a listener and returns its unsubscribe function. The
// listener is called immediately with the current status so late subscribers
// see the present state, then on every transition.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	status := m.status
	m.mu.Unlock()

	fn(status)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start launches the periodic latency probe. Stop with Stop.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.prober == nil || m.opts.ProbeInterval <= 0 {
		close(m.done)
		return
	}
	go m.probeLoop()
}

// Stop terminates the probe loop and waits for it to exit. Safe to call
// even if Start never ran.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	<-m.done
}

func (m *Monitor) probeLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runProbe()
		}
	}
}

// runProbe measures latency once and updates the slow flag. Probe failures
// never flip IsOnline; an unreachable probe endpoint while the platform says
// online means degraded, not down.
func (m *Monitor) runProbe() {
	if !m.Status().IsOnline {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.SlowThreshold*2)
	defer cancel()

	latency, err := m.prober.Probe(ctx)
	slow := err != nil || latency > m.opts.SlowThreshold
	if err != nil {
		m.logger.Warn("health probe failed", zap.Error(err))
	}
	m.setSlow(slow, latency)
}

func (m *Monitor) setSlow(slow bool, latency time.Duration) {
	m.mu.Lock()
	if !m.status.IsOnline || m.status.IsSlowConnection == slow {
		m.mu.Unlock()
		return
	}
	m.status.IsSlowConnection = slow
	status := m.status
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.logger.Info("connection quality changed",
		zap.Bool("slow", slow),
		zap.Duration("latency", latency))
	for _, fn := range listeners {
		fn(status)
	}
}

// snapshotListeners copies the listener set; callers must hold mu.
func (m *Monitor) snapshotListeners() []Listener {
	listeners := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}
