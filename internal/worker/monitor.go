// Package worker runs the periodic monitoring cycle: chain scans, pending
// outbound polling and the unpriced deposit retry.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deposit-scanner/internal/ledger"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/scanner"
	"github.com/deposit-scanner/internal/tracker"
	"github.com/deposit-scanner/internal/types"
)

// PendingPoller settles outbound transactions
type PendingPoller interface {
	PollPending(ctx context.Context) (*tracker.PollStats, error)
}

// UnpricedRetrier re-attempts deposits that lacked a price
type UnpricedRetrier interface {
	RetryUnpriced(ctx context.Context) (ledger.RetryStats, error)
}

// Config holds the monitor configuration
type Config struct {
	Scanners         []scanner.ChainScanner
	Wallets          scanner.WalletLister
	Tracker          PendingPoller
	Ledger           UnpricedRetrier
	Interval         time.Duration
	InterWalletDelay time.Duration
}

// CycleReport summarizes one monitoring cycle
type CycleReport struct {
	StartedAt time.Time                             `json:"startedAt"`
	Duration  time.Duration                         `json:"duration"`
	Chains    map[types.ChainID]*scanner.CycleStats `json:"chains"`
	Pending   *tracker.PollStats                    `json:"pending,omitempty"`
	Unpriced  ledger.RetryStats                     `json:"unpriced"`
	Errors    []string                              `json:"errors,omitempty"`
}

// Status reports the monitor state
type Status struct {
	Running   bool         `json:"running"`
	Interval  string       `json:"interval"`
	Cycles    int          `json:"cycles"`
	LastCycle *CycleReport `json:"lastCycle,omitempty"`
}

// Monitor runs the monitoring cycle on a fixed interval. A cycle that is
// still running when the next tick fires delays that tick.
type Monitor struct {
	cfg Config

	mu      sync.RWMutex
	running bool
	cycles  int
	last    *CycleReport
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a monitor
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Wallets == nil {
		return nil, fmt.Errorf("wallet lister cannot be nil")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("pending tracker cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.InterWalletDelay < 0 {
		cfg.InterWalletDelay = 0
	}
	return &Monitor{cfg: cfg}, nil
}

// Start runs one cycle immediately and then one per interval
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"interval": m.cfg.Interval.String(),
		"chains":   len(m.cfg.Scanners),
	}).Info("Starting deposit monitor")

	go m.pollLoop(ctx)
	return nil
}

// Stop signals the loop and waits for the running cycle to finish
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor is not running")
	}
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	logging.FromContext(ctx).Info("Deposit monitor stopped")
	return nil
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle scans every chain and polls pending transactions concurrently,
// then retries unpriced deposits. Failures are logged and reported; they
// never stop the monitor.
func (m *Monitor) RunCycle(ctx context.Context) *CycleReport {
	log := logging.FromContext(ctx)
	report := &CycleReport{
		StartedAt: time.Now().UTC(),
		Chains:    make(map[types.ChainID]*scanner.CycleStats, len(m.cfg.Scanners)),
	}

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	fail := func(what string, err error) {
		resMu.Lock()
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", what, err))
		resMu.Unlock()
	}

	for _, s := range m.cfg.Scanners {
		wg.Add(1)
		go func(s scanner.ChainScanner) {
			defer wg.Done()
			stats, err := scanner.ScanChain(ctx, s, m.cfg.Wallets, m.cfg.InterWalletDelay)
			if stats != nil {
				resMu.Lock()
				report.Chains[s.Chain()] = stats
				resMu.Unlock()
			}
			if err != nil {
				log.WithError(err).WithField("chain", s.Chain()).Error("Chain scan failed")
				fail("scan "+string(s.Chain()), err)
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, err := m.cfg.Tracker.PollPending(ctx)
		if err != nil {
			log.WithError(err).Error("Pending poll failed")
			fail("pending", err)
		}
		resMu.Lock()
		report.Pending = stats
		resMu.Unlock()
	}()

	wg.Wait()

	unpriced, err := m.cfg.Ledger.RetryUnpriced(ctx)
	if err != nil {
		log.WithError(err).Error("Unpriced retry failed")
		fail("unpriced", err)
	}
	report.Unpriced = unpriced
	report.Duration = time.Since(report.StartedAt)

	m.mu.Lock()
	m.cycles++
	m.last = report
	m.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"duration": report.Duration.String(),
		"errors":   len(report.Errors),
		"unpriced": unpriced.Pending,
	}).Info("Monitor cycle complete")
	return report
}

// GetStatus returns the monitor state and the last cycle report
func (m *Monitor) GetStatus() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Status{
		Running:   m.running,
		Interval:  m.cfg.Interval.String(),
		Cycles:    m.cycles,
		LastCycle: m.last,
	}
}
