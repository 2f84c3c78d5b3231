package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/naap-platform/naap-runtime/internal/orchestrator"
)

type fakeOrch struct {
	mu         sync.Mutex
	restarted  []string
	restartErr error
}

func (f *fakeOrch) Deploy(ctx context.Context, spec orchestrator.DeploymentSpec) (string, error) {
	return "", nil
}

func (f *fakeOrch) Inspect(ctx context.Context, id string) (*orchestrator.ContainerState, error) {
	return nil, nil
}

func (f *fakeOrch) Restart(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restartErr != nil {
		return f.restartErr
	}
	f.restarted = append(f.restarted, id)
	return nil
}

func (f *fakeOrch) Teardown(ctx context.Context, id string) error { return nil }

func (f *fakeOrch) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarted)
}

// longInterval keeps the ticker from firing during a test; checks run only
// via TriggerCheck.
const longInterval = time.Hour

func TestTriggerCheck_HealthyJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	orch := &fakeOrch{}
	m := NewProcessMonitor(orch, longInterval, 3)
	defer m.StopAll()

	m.StartMonitoring(Target{Plugin: "crm", HealthURL: srv.URL, ContainerID: "c-1"})
	if !m.TriggerCheck(context.Background(), "crm") {
		t.Fatal("TriggerCheck returned false for monitored plugin")
	}

	states := m.States()
	if len(states) != 1 || !states[0].Healthy || states[0].Failures != 0 {
		t.Errorf("states = %+v", states)
	}
}

func TestTriggerCheck_BadStatusCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"starting"}`))
	}))
	defer srv.Close()

	orch := &fakeOrch{}
	m := NewProcessMonitor(orch, longInterval, 3)
	defer m.StopAll()

	m.StartMonitoring(Target{Plugin: "crm", HealthURL: srv.URL, ContainerID: "c-1"})
	m.TriggerCheck(context.Background(), "crm")

	states := m.States()
	if states[0].Failures != 1 {
		t.Errorf("failures = %d, want 1", states[0].Failures)
	}
	if orch.restartCount() != 0 {
		t.Error("restarted below threshold")
	}
}

func TestTriggerCheck_ThresholdRestarts(t *testing.T) {
	orch := &fakeOrch{}
	m := NewProcessMonitor(orch, longInterval, 3)
	defer m.StopAll()

	m.StartMonitoring(Target{Plugin: "crm", HealthURL: "http://127.0.0.1:1/health", ContainerID: "c-1"})
	for i := 0; i < 3; i++ {
		m.TriggerCheck(context.Background(), "crm")
	}

	if orch.restartCount() != 1 {
		t.Fatalf("restarts = %d, want 1", orch.restartCount())
	}
	states := m.States()
	if !states[0].Recovering {
		t.Error("expected recovering state after restart")
	}
	if states[0].Failures != 0 {
		t.Errorf("failures = %d, want reset to 0", states[0].Failures)
	}

	// While recovering, further failures must not pile up more restarts.
	for i := 0; i < 3; i++ {
		m.TriggerCheck(context.Background(), "crm")
	}
	if orch.restartCount() != 1 {
		t.Errorf("restarts = %d, want still 1 while recovering", orch.restartCount())
	}
}

func TestRestartEscalatesAgainAfterGrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	orch := &fakeOrch{}
	m := NewProcessMonitor(orch, 20*time.Millisecond, 1)
	defer m.StopAll()

	// A backend that never comes back must keep being restarted: the grace
	// window after each restart expires and the threshold trips again.
	m.StartMonitoring(Target{Plugin: "crm", HealthURL: srv.URL, ContainerID: "c-1"})

	deadline := time.After(2 * time.Second)
	for orch.restartCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("restarts = %d, want a second restart after the grace window", orch.restartCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTriggerCheck_RecoveryClearsRecovering(t *testing.T) {
	var healthy bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	orch := &fakeOrch{}
	m := NewProcessMonitor(orch, longInterval, 2)
	defer m.StopAll()

	m.StartMonitoring(Target{Plugin: "crm", HealthURL: srv.URL, ContainerID: "c-1"})
	m.TriggerCheck(context.Background(), "crm")
	m.TriggerCheck(context.Background(), "crm") // threshold, restart

	mu.Lock()
	healthy = true
	mu.Unlock()
	m.TriggerCheck(context.Background(), "crm")

	states := m.States()
	if !states[0].Healthy || states[0].Recovering {
		t.Errorf("state = %+v, want healthy and not recovering", states[0])
	}
}

func TestTriggerCheck_Unmonitored(t *testing.T) {
	m := NewProcessMonitor(&fakeOrch{}, longInterval, 3)
	defer m.StopAll()

	if m.TriggerCheck(context.Background(), "ghost") {
		t.Error("TriggerCheck returned true for unmonitored plugin")
	}
}

func TestStopMonitoring(t *testing.T) {
	m := NewProcessMonitor(&fakeOrch{}, longInterval, 3)
	defer m.StopAll()

	m.StartMonitoring(Target{Plugin: "crm", HealthURL: "http://127.0.0.1:1", ContainerID: "c-1"})
	m.StopMonitoring("crm")

	if len(m.States()) != 0 {
		t.Errorf("states = %d, want 0 after stop", len(m.States()))
	}
	// Stopping again is a no-op.
	m.StopMonitoring("crm")
}

func TestStopAll(t *testing.T) {
	m := NewProcessMonitor(&fakeOrch{}, 10*time.Millisecond, 3)
	m.StartMonitoring(Target{Plugin: "a", HealthURL: "http://127.0.0.1:1", ContainerID: "c-a"})
	m.StartMonitoring(Target{Plugin: "b", HealthURL: "http://127.0.0.1:1", ContainerID: "c-b"})

	done := make(chan struct{})
	go func() {
		m.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return")
	}
	if len(m.States()) != 0 {
		t.Errorf("states = %d, want 0", len(m.States()))
	}
}

func TestStartMonitoring_ReplacesExisting(t *testing.T) {
	m := NewProcessMonitor(&fakeOrch{}, longInterval, 3)
	defer m.StopAll()

	m.StartMonitoring(Target{Plugin: "crm", HealthURL: "http://127.0.0.1:1", ContainerID: "c-old"})
	m.StartMonitoring(Target{Plugin: "crm", HealthURL: "http://127.0.0.1:1", ContainerID: "c-new"})

	states := m.States()
	if len(states) != 1 {
		t.Fatalf("states = %d, want 1", len(states))
	}
}
