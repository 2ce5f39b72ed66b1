package failover

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pinger probes the backup. Satisfied by the replication client.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// Manager owns the single piece of process-wide replication state: whether
// the backup is presumed reachable. A background loop probes it every
// interval; the orchestrator can also demote synchronously after a failed
// replicate call instead of waiting out the interval.
//
// Returning to NORMAL performs no reconciliation; transactions the primary
// applied during failover stay missing from the backup's ledger.
type Manager struct {
	pinger   Pinger
	interval time.Duration
	logger   *zap.Logger

	failover atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(pinger Pinger, interval time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		pinger:   pinger,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. The first probe runs immediately.
func (m *Manager) Start() {
	go func() {
		defer close(m.done)

		m.probe()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.probe()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// FailoverActive is the non-blocking mode read for the orchestrator.
func (m *Manager) FailoverActive() bool {
	return m.failover.Load()
}

// Demote flips to failover mode immediately. Called by the orchestrator when
// a replicate call comes back unreachable, so the mode never stays stale for
// a full probe interval.
func (m *Manager) Demote() {
	if m.failover.CompareAndSwap(false, true) {
		m.logger.Warn("backup unreachable, entering failover mode")
	}
}

func (m *Manager) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	if m.pinger.Ping(ctx) {
		if m.failover.CompareAndSwap(true, false) {
			m.logger.Warn("backup reachable again, resuming replication; ledgers may have diverged")
		}
		return
	}
	m.Demote()
}
