// Package monitor watches running plugin backend processes and restarts the
// ones that stop answering. One monitor goroutine runs per plugin; failures
// must be consecutive to trigger a restart, and any success resets the
// count.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/naap-platform/naap-runtime/internal/orchestrator"
	"github.com/naap-platform/naap-runtime/internal/safego"
	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

// healthBody is the JSON shape plugin backends answer with.
type healthBody struct {
	Status string `json:"status"`
}

// Target identifies one monitored plugin backend.
type Target struct {
	Plugin      string
	HealthURL   string
	ContainerID string
}

// State is a point-in-time view of one monitor.
type State struct {
	Plugin     string `json:"plugin"`
	Healthy    bool   `json:"healthy"`
	Recovering bool   `json:"recovering"`
	Failures   int    `json:"failures"`
	Restarts   int    `json:"restarts"`
}

type pluginMonitor struct {
	target Target
	stopCh chan struct{}

	mu         sync.Mutex
	healthy    bool
	recovering bool
	failures   int
	restarts   int
}

// ProcessMonitor owns the per-plugin monitor goroutines.
type ProcessMonitor struct {
	orch            orchestrator.Orchestrator
	client          *http.Client
	interval        time.Duration
	maxFailedChecks int

	mu       sync.Mutex
	monitors map[string]*pluginMonitor
	wg       sync.WaitGroup
}

// NewProcessMonitor creates an empty monitor registry. maxFailedChecks is
// the consecutive failure count that triggers a restart.
func NewProcessMonitor(orch orchestrator.Orchestrator, interval time.Duration, maxFailedChecks int) *ProcessMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxFailedChecks <= 0 {
		maxFailedChecks = 3
	}
	return &ProcessMonitor{
		orch:            orch,
		client:          &http.Client{Timeout: 5 * time.Second},
		interval:        interval,
		maxFailedChecks: maxFailedChecks,
		monitors:        make(map[string]*pluginMonitor),
	}
}

// StartMonitoring begins watching a plugin backend. Starting an
// already-monitored plugin replaces its monitor, picking up a new container
// id after a redeploy.
func (m *ProcessMonitor) StartMonitoring(target Target) {
	m.mu.Lock()
	if old, ok := m.monitors[target.Plugin]; ok {
		close(old.stopCh)
	}
	pm := &pluginMonitor{
		target:  target,
		stopCh:  make(chan struct{}),
		healthy: true,
	}
	m.monitors[target.Plugin] = pm
	m.mu.Unlock()

	m.wg.Add(1)
	safego.Go(func() {
		defer m.wg.Done()
		m.run(pm)
	})
	slog.Info("monitoring plugin", "plugin", target.Plugin, "interval", m.interval)
}

// StopMonitoring stops the monitor for one plugin. Unknown plugins are a
// no-op.
func (m *ProcessMonitor) StopMonitoring(plugin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm, ok := m.monitors[plugin]; ok {
		close(pm.stopCh)
		delete(m.monitors, plugin)
		slog.Info("stopped monitoring plugin", "plugin", plugin)
	}
}

// StopAll stops every monitor and waits for their goroutines to exit.
func (m *ProcessMonitor) StopAll() {
	m.mu.Lock()
	for plugin, pm := range m.monitors {
		close(pm.stopCh)
		delete(m.monitors, plugin)
	}
	m.mu.Unlock()
	m.wg.Wait()
	slog.Info("process monitor stopped")
}

// TriggerCheck runs one immediate check for a plugin, outside the ticker.
// Returns false for plugins that are not monitored.
func (m *ProcessMonitor) TriggerCheck(ctx context.Context, plugin string) bool {
	m.mu.Lock()
	pm, ok := m.monitors[plugin]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.check(ctx, pm)
	return true
}

// States reports a snapshot of every monitor.
func (m *ProcessMonitor) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]State, 0, len(m.monitors))
	for _, pm := range m.monitors {
		pm.mu.Lock()
		states = append(states, State{
			Plugin:     pm.target.Plugin,
			Healthy:    pm.healthy,
			Recovering: pm.recovering,
			Failures:   pm.failures,
			Restarts:   pm.restarts,
		})
		pm.mu.Unlock()
	}
	return states
}

func (m *ProcessMonitor) run(pm *pluginMonitor) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			m.check(context.Background(), pm)
		}
	}
}

func (m *ProcessMonitor) check(ctx context.Context, pm *pluginMonitor) {
	log := slog.With("plugin", pm.target.Plugin)

	if m.probe(ctx, pm.target.HealthURL) {
		pm.mu.Lock()
		wasRecovering := pm.recovering
		hadFailures := pm.failures
		pm.healthy = true
		pm.recovering = false
		pm.failures = 0
		pm.mu.Unlock()
		if wasRecovering || hadFailures > 0 {
			log.Info("plugin recovered", "previous_failures", hadFailures)
		}
		return
	}

	pm.mu.Lock()
	pm.failures++
	failures := pm.failures
	recovering := pm.recovering
	pm.mu.Unlock()

	log.Warn("plugin health check failed", "failures", failures, "threshold", m.maxFailedChecks)

	if failures < m.maxFailedChecks || recovering {
		// Below threshold, or a restart is already in flight and the backend
		// gets its full grace to come back.
		return
	}

	pm.mu.Lock()
	pm.healthy = false
	pm.recovering = true
	pm.failures = 0
	pm.restarts++
	pm.mu.Unlock()

	log.Warn("restarting plugin backend", "container", pm.target.ContainerID)
	if err := m.orch.Restart(ctx, pm.target.ContainerID); err != nil {
		log.Error("restart plugin backend", "container", pm.target.ContainerID, "error", err)
		pm.mu.Lock()
		pm.recovering = false
		pm.mu.Unlock()
		return
	}
	telemetry.PluginRestartsTotal.WithLabelValues(pm.target.Plugin).Inc()

	// The restarted backend gets one interval of grace; the delayed re-check
	// then clears the recovering latch so the threshold can trip again if it
	// is still down. There is no restart ceiling.
	m.wg.Add(1)
	safego.Go(func() {
		defer m.wg.Done()
		select {
		case <-pm.stopCh:
		case <-time.After(m.interval):
			pm.mu.Lock()
			pm.recovering = false
			pm.mu.Unlock()
			m.check(context.Background(), pm)
		}
	})
}

// probe answers true when the backend responds 2xx and, if the body is a
// JSON health document, reports an ok or healthy status.
func (m *ProcessMonitor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Backends that answer 2xx without a JSON body count as healthy.
		return true
	}
	if body.Status == "" {
		return true
	}
	return body.Status == "ok" || body.Status == "healthy"
}
