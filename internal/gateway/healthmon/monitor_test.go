package healthmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
)

type fakeStore struct {
	mu      sync.Mutex
	updates []struct {
		status   string
		failures int
	}
}

func (f *fakeStore) UpdateHealth(ctx context.Context, slotID, healthStatus string, failures int, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, struct {
		status   string
		failures int
	}{healthStatus, failures})
	return nil
}

type fakeDeployments struct {
	mu        sync.Mutex
	rollbacks []string
}

func (f *fakeDeployments) Rollback(ctx context.Context, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks = append(f.rollbacks, deploymentID)
	return nil
}

func (f *fakeDeployments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rollbacks)
}

type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingAlerter) Alert(deploymentID, slot, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func newTestMonitor(store SlotStore, dm DeploymentManager, alerter Alerter) (*Monitor, *slotMonitor) {
	m := NewMonitor(store, dm, alerter, Config{
		Interval:           time.Hour, // checks driven manually in tests
		UnhealthyThreshold: 3,
		HealthyThreshold:   2,
	})
	url := "http://127.0.0.1:1"
	slot := &models.PluginDeploymentSlot{
		ID:           "slot-1",
		DeploymentID: "dep-1",
		Slot:         models.SlotBlue,
		BackendURL:   &url,
	}
	m.Watch(slot, WatchConfig{})
	m.mu.Lock()
	sm := m.monitors[slotKey{deploymentID: "dep-1", slot: models.SlotBlue}]
	m.mu.Unlock()
	return m, sm
}

func TestEvaluate_UnhealthyAfterThreeFailures(t *testing.T) {
	store := &fakeStore{}
	dm := &fakeDeployments{}
	m, sm := newTestMonitor(store, dm, &recordingAlerter{})
	defer m.Shutdown()

	ctx := context.Background()
	m.evaluate(ctx, sm, false)
	m.evaluate(ctx, sm, false)
	if dm.count() != 0 {
		t.Fatal("rollback before threshold")
	}

	m.evaluate(ctx, sm, false)
	if dm.count() != 1 {
		t.Fatalf("rollbacks = %d, want 1 at threshold", dm.count())
	}

	// Continued failures must not trigger a second rollback.
	m.evaluate(ctx, sm, false)
	m.evaluate(ctx, sm, false)
	m.evaluate(ctx, sm, false)
	if dm.count() != 1 {
		t.Errorf("rollbacks = %d, want still 1", dm.count())
	}
}

func TestEvaluate_RecoveryNeedsTwoSuccesses(t *testing.T) {
	store := &fakeStore{}
	dm := &fakeDeployments{}
	m, sm := newTestMonitor(store, dm, &recordingAlerter{})
	defer m.Shutdown()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.evaluate(ctx, sm, false)
	}

	m.evaluate(ctx, sm, true)
	sm.mu.Lock()
	healthy := sm.healthy
	sm.mu.Unlock()
	if healthy {
		t.Error("one success must not mark the slot healthy")
	}

	m.evaluate(ctx, sm, true)
	sm.mu.Lock()
	healthy = sm.healthy
	sm.mu.Unlock()
	if !healthy {
		t.Error("two successes must mark the slot healthy")
	}

	// A fresh sustained failure rolls back again after recovery.
	for i := 0; i < 3; i++ {
		m.evaluate(ctx, sm, false)
	}
	if dm.count() != 2 {
		t.Errorf("rollbacks = %d, want 2 after second sustained failure", dm.count())
	}
}

func TestEvaluate_MixedResultsNeverTrigger(t *testing.T) {
	store := &fakeStore{}
	dm := &fakeDeployments{}
	m, sm := newTestMonitor(store, dm, &recordingAlerter{})
	defer m.Shutdown()

	ctx := context.Background()
	pattern := []bool{false, false, true, false, false, true, false}
	for _, ok := range pattern {
		m.evaluate(ctx, sm, ok)
	}
	if dm.count() != 0 {
		t.Errorf("rollbacks = %d, want 0 without three consecutive failures", dm.count())
	}
}

func TestEvaluate_AlertsDeduplicated(t *testing.T) {
	store := &fakeStore{}
	dm := &fakeDeployments{}
	alerter := &recordingAlerter{}
	m, sm := newTestMonitor(store, dm, alerter)
	defer m.Shutdown()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		m.evaluate(ctx, sm, false)
	}

	alerter.mu.Lock()
	n := len(alerter.messages)
	alerter.mu.Unlock()
	if n != 1 {
		t.Errorf("alerts = %d, want 1 for one transition", n)
	}
}

func TestEvaluate_PersistsCounters(t *testing.T) {
	store := &fakeStore{}
	m, sm := newTestMonitor(store, &fakeDeployments{}, &recordingAlerter{})
	defer m.Shutdown()

	m.evaluate(context.Background(), sm, false)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(store.updates))
	}
	if store.updates[0].failures != 1 || store.updates[0].status != models.HealthStatusHealthy {
		t.Errorf("update = %+v", store.updates[0])
	}
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewMonitor(&fakeStore{}, &fakeDeployments{}, nil, Config{Interval: time.Hour})
	defer m.Shutdown()

	if !m.CheckHealth(context.Background(), srv.URL+"/ok") {
		t.Error("CheckHealth(/ok) = false, want true")
	}
	if m.CheckHealth(context.Background(), srv.URL+"/bad") {
		t.Error("CheckHealth(/bad) = true, want false")
	}
	if m.CheckHealth(context.Background(), "http://127.0.0.1:1") {
		t.Error("CheckHealth(unreachable) = true, want false")
	}
}

func TestWatch_FrontendOnlyIgnored(t *testing.T) {
	m := NewMonitor(&fakeStore{}, &fakeDeployments{}, nil, Config{Interval: time.Hour})
	defer m.Shutdown()

	m.Watch(&models.PluginDeploymentSlot{ID: "slot-1", DeploymentID: "dep-1", Slot: models.SlotBlue}, WatchConfig{})
	if got := m.Stats().ActiveMonitors; got != 0 {
		t.Errorf("ActiveMonitors = %d, want 0 for frontend-only slot", got)
	}
}

func TestStatsAndShutdown(t *testing.T) {
	m := NewMonitor(&fakeStore{}, &fakeDeployments{}, nil, Config{Interval: 30 * time.Second})

	url := "http://127.0.0.1:1"
	for _, slot := range []string{models.SlotBlue, models.SlotGreen} {
		m.Watch(&models.PluginDeploymentSlot{
			ID: "slot-" + slot, DeploymentID: "dep-1", Slot: slot, BackendURL: &url,
		}, WatchConfig{})
	}

	stats := m.Stats()
	if stats.ActiveMonitors != 2 {
		t.Errorf("ActiveMonitors = %d, want 2", stats.ActiveMonitors)
	}
	// Two monitors at 30s each contribute 2/min apiece.
	if stats.ChecksPerMin != 4 {
		t.Errorf("ChecksPerMin = %v, want 4", stats.ChecksPerMin)
	}

	m.Shutdown()
	if got := m.Stats().ActiveMonitors; got != 0 {
		t.Errorf("ActiveMonitors after Shutdown = %d, want 0", got)
	}
}

func TestWatch_PerSlotInterval(t *testing.T) {
	m := NewMonitor(&fakeStore{}, &fakeDeployments{}, nil, Config{Interval: 30 * time.Second})
	defer m.Shutdown()

	url := "http://127.0.0.1:1"
	m.Watch(&models.PluginDeploymentSlot{
		ID: "slot-blue", DeploymentID: "dep-1", Slot: models.SlotBlue, BackendURL: &url,
	}, WatchConfig{})
	m.Watch(&models.PluginDeploymentSlot{
		ID: "slot-green", DeploymentID: "dep-1", Slot: models.SlotGreen, BackendURL: &url,
	}, WatchConfig{Interval: 15 * time.Second})

	// 30s default contributes 2/min, the 15s override 4/min.
	if got := m.Stats().ChecksPerMin; got != 6 {
		t.Errorf("ChecksPerMin = %v, want 6", got)
	}
}
