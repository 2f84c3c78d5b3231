// Package healthmon runs per-slot health monitors for plugin deployments.
// Thresholds are asymmetric: it takes three consecutive failures to call a
// slot unhealthy but only two consecutive successes to call it recovered,
// so a flapping backend degrades fast and recovers cautiously. A sustained
// unhealthy transition triggers exactly one rollback of the deployment.
package healthmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/safego"
)

// Default thresholds.
const (
	DefaultUnhealthyThreshold = 3
	DefaultHealthyThreshold   = 2
)

// DefaultProbeTimeout bounds one probe when a slot declares no timeout.
const DefaultProbeTimeout = 5 * time.Second

// DeploymentManager is the rollback capability injected into the monitor.
// In production this is the provisioner.
type DeploymentManager interface {
	Rollback(ctx context.Context, deploymentID string) error
}

// SlotStore persists slot health counters so they survive restarts.
type SlotStore interface {
	UpdateHealth(ctx context.Context, slotID, healthStatus string, failures int, checkedAt time.Time) error
}

var _ SlotStore = (*repositories.SlotRepository)(nil)

// Alerter receives health transition notifications. Alerts are deduplicated:
// one per transition, not one per failed check.
type Alerter interface {
	Alert(deploymentID, slot, message string)
}

// LogAlerter writes alerts to the structured log. The default sink.
type LogAlerter struct{}

// Alert implements Alerter.
func (LogAlerter) Alert(deploymentID, slot, message string) {
	slog.Warn("slot health alert", "deployment", deploymentID, "slot", slot, "message", message)
}

type slotKey struct {
	deploymentID string
	slot         string
}

type slotMonitor struct {
	key       slotKey
	slotID    string
	healthURL string
	interval  time.Duration
	timeout   time.Duration
	stopCh    chan struct{}

	mu           sync.Mutex
	healthy      bool
	consecFails  int
	consecOKs    int
	rolledBack   bool
	checksTotal  int64
	lastCheckAt  time.Time
	lastAlertMsg string
}

// Stats aggregates monitor activity.
type Stats struct {
	ActiveMonitors int     `json:"active_monitors"`
	ChecksPerMin   float64 `json:"checks_per_min"`
	UnhealthySlots int     `json:"unhealthy_slots"`
}

// Monitor owns the per-slot monitor goroutines.
type Monitor struct {
	store              SlotStore
	deployments        DeploymentManager
	alerter            Alerter
	client             *http.Client
	defaultInterval    time.Duration
	unhealthyThreshold int
	healthyThreshold   int

	mu       sync.Mutex
	monitors map[slotKey]*slotMonitor
	wg       sync.WaitGroup
}

// Config tunes a Monitor.
type Config struct {
	Interval           time.Duration
	UnhealthyThreshold int
	HealthyThreshold   int
}

// NewMonitor wires a slot health monitor. alerter may be nil, defaulting to
// the structured log.
func NewMonitor(store SlotStore, deployments DeploymentManager, alerter Alerter, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = DefaultHealthyThreshold
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Monitor{
		store:              store,
		deployments:        deployments,
		alerter:            alerter,
		client:             &http.Client{Timeout: 5 * time.Second},
		defaultInterval:    cfg.Interval,
		unhealthyThreshold: cfg.UnhealthyThreshold,
		healthyThreshold:   cfg.HealthyThreshold,
		monitors:           make(map[slotKey]*slotMonitor),
	}
}

// WatchConfig overrides the monitor-wide defaults for one slot. Zero values
// fall back to the defaults.
type WatchConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Watch starts monitoring one slot. Watching an already-watched slot
// replaces its monitor.
func (m *Monitor) Watch(slot *models.PluginDeploymentSlot, cfg WatchConfig) {
	if slot.BackendURL == nil {
		// Frontend-only slots have nothing to probe.
		return
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = m.defaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	key := slotKey{deploymentID: slot.DeploymentID, slot: slot.Slot}
	sm := &slotMonitor{
		key:       key,
		slotID:    slot.ID,
		healthURL: *slot.BackendURL + "/health",
		interval:  interval,
		timeout:   timeout,
		stopCh:    make(chan struct{}),
		healthy:   true,
	}

	m.mu.Lock()
	if old, ok := m.monitors[key]; ok {
		close(old.stopCh)
	}
	m.monitors[key] = sm
	m.mu.Unlock()

	m.wg.Add(1)
	safego.Go(func() {
		defer m.wg.Done()
		m.run(sm)
	})
}

// Unwatch stops monitoring one slot.
func (m *Monitor) Unwatch(deploymentID, slot string) {
	key := slotKey{deploymentID: deploymentID, slot: slot}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.monitors[key]; ok {
		close(sm.stopCh)
		delete(m.monitors, key)
	}
}

// Shutdown stops every monitor and waits for their goroutines; afterwards no
// monitors remain active.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	for key, sm := range m.monitors {
		close(sm.stopCh)
		delete(m.monitors, key)
	}
	m.mu.Unlock()
	m.wg.Wait()
	slog.Info("slot health monitor shut down")
}

// Stats reports aggregate monitor activity. Checks per minute is the sum of
// 60/interval over active monitors.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{ActiveMonitors: len(m.monitors)}
	for _, sm := range m.monitors {
		s.ChecksPerMin += 60 / sm.interval.Seconds()
		sm.mu.Lock()
		if !sm.healthy {
			s.UnhealthySlots++
		}
		sm.mu.Unlock()
	}
	return s
}

func (m *Monitor) run(sm *slotMonitor) {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
			m.evaluate(ctx, sm, m.CheckHealth(ctx, sm.healthURL))
			cancel()
		}
	}
}

// CheckHealth is one pure probe: true iff the URL answers 2xx. It mutates no
// monitor state, so callers can probe ad hoc; the probe is bounded by ctx
// and by the client timeout, whichever fires first.
func (m *Monitor) CheckHealth(ctx context.Context, healthURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// evaluate folds one probe result into the monitor's state, persisting the
// counters and firing transitions.
func (m *Monitor) evaluate(ctx context.Context, sm *slotMonitor, ok bool) {
	now := time.Now()

	sm.mu.Lock()
	sm.checksTotal++
	sm.lastCheckAt = now

	var (
		becameUnhealthy bool
		becameHealthy   bool
		failures        int
	)
	if ok {
		sm.consecOKs++
		sm.consecFails = 0
		if !sm.healthy && sm.consecOKs >= m.healthyThreshold {
			sm.healthy = true
			sm.rolledBack = false
			becameHealthy = true
		}
	} else {
		sm.consecFails++
		sm.consecOKs = 0
		if sm.healthy && sm.consecFails >= m.unhealthyThreshold {
			sm.healthy = false
			becameUnhealthy = true
		}
	}
	failures = sm.consecFails
	healthy := sm.healthy
	alreadyRolledBack := sm.rolledBack
	if becameUnhealthy {
		sm.rolledBack = true
	}
	sm.mu.Unlock()

	status := models.HealthStatusHealthy
	if !healthy {
		status = models.HealthStatusUnhealthy
	}
	if err := m.store.UpdateHealth(ctx, sm.slotID, status, failures, now); err != nil {
		slog.Error("persist slot health", "deployment", sm.key.deploymentID, "slot", sm.key.slot, "error", err)
	}

	if becameHealthy {
		m.alertOnce(sm, fmt.Sprintf("slot recovered after %d consecutive successes", m.healthyThreshold))
	}
	if becameUnhealthy && !alreadyRolledBack {
		m.alertOnce(sm, fmt.Sprintf("slot unhealthy after %d consecutive failures, rolling back", m.unhealthyThreshold))
		if err := m.deployments.Rollback(ctx, sm.key.deploymentID); err != nil {
			slog.Error("rollback after sustained unhealthy",
				"deployment", sm.key.deploymentID, "slot", sm.key.slot, "error", err)
		}
	}
}

// alertOnce suppresses duplicate alerts for the same message in a row.
func (m *Monitor) alertOnce(sm *slotMonitor, message string) {
	sm.mu.Lock()
	dup := sm.lastAlertMsg == message
	if !dup {
		sm.lastAlertMsg = message
	}
	sm.mu.Unlock()
	if !dup {
		m.alerter.Alert(sm.key.deploymentID, sm.key.slot, message)
	}
}
