package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/gateway/probe"
)

type fakeConnectorSource struct {
	connectors []*models.ServiceConnector
	err        error
}

func (f *fakeConnectorSource) ListPublished(ctx context.Context) ([]*models.ServiceConnector, error) {
	return f.connectors, f.err
}

func (f *fakeConnectorSource) ListPublishedForTeam(ctx context.Context, teamID string) ([]*models.ServiceConnector, error) {
	out := make([]*models.ServiceConnector, 0)
	for _, c := range f.connectors {
		if c.TeamID != nil && *c.TeamID == teamID {
			out = append(out, c)
		}
	}
	return out, f.err
}

type fakeCheckSink struct {
	mu      sync.Mutex
	created []*models.GatewayHealthCheck
	pruned  bool
}

func (f *fakeCheckSink) Create(ctx context.Context, hc *models.GatewayHealthCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, hc)
	return nil
}

func (f *fakeCheckSink) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = true
	return 3, nil
}

func connectorFor(id, upstream string) *models.ServiceConnector {
	return &models.ServiceConnector{
		ID:              id,
		Slug:            id,
		UpstreamBaseURL: upstream,
		HealthCheckPath: "/health",
		AuthType:        models.AuthTypeNone,
	}
}

func TestRunHealthCheck_ProbesAndPersists(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	sink := &fakeCheckSink{}
	job := NewHealthCheckJob(
		&fakeConnectorSource{connectors: []*models.ServiceConnector{
			connectorFor("conn-up", up.URL),
			connectorFor("conn-down", down.URL),
		}},
		sink,
		probe.NewTester(2*time.Second, time.Second, nil),
		Config{},
	)

	summary, err := job.RunHealthCheck(context.Background())
	if err != nil {
		t.Fatalf("RunHealthCheck: %v", err)
	}
	if summary.Checked != 2 || summary.Up != 1 || summary.Down != 1 {
		t.Errorf("summary = %+v, want 2 checked, 1 up, 1 down", summary)
	}
	if len(sink.created) != 2 {
		t.Fatalf("persisted %d checks, want 2", len(sink.created))
	}
}

func TestRunHealthCheck_HungUpstreamDoesNotStallBatch(t *testing.T) {
	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		hung.Close()
	}()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	sink := &fakeCheckSink{}
	job := NewHealthCheckJob(
		&fakeConnectorSource{connectors: []*models.ServiceConnector{
			connectorFor("conn-hung", hung.URL),
			connectorFor("conn-fast", fast.URL),
		}},
		sink,
		probe.NewTester(10*time.Second, time.Second, nil),
		Config{Concurrency: 2, ProbeTimeout: 200 * time.Millisecond},
	)

	start := time.Now()
	summary, err := job.RunHealthCheck(context.Background())
	if err != nil {
		t.Fatalf("RunHealthCheck: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("sweep took %v, the hung upstream stalled it", elapsed)
	}
	if summary.Up != 1 || summary.Down != 1 {
		t.Errorf("summary = %+v, want 1 up and the hung connector down", summary)
	}
}

func TestRunHealthCheck_ListError(t *testing.T) {
	job := NewHealthCheckJob(
		&fakeConnectorSource{err: errors.New("db down")},
		&fakeCheckSink{},
		probe.NewTester(time.Second, time.Second, nil),
		Config{},
	)
	if _, err := job.RunHealthCheck(context.Background()); err == nil {
		t.Error("expected error when listing connectors fails")
	}
}

func TestHealthCheckJob_StartStop(t *testing.T) {
	job := NewHealthCheckJob(
		&fakeConnectorSource{},
		&fakeCheckSink{},
		probe.NewTester(time.Second, time.Second, nil),
		Config{Interval: time.Hour},
	)
	job.Start()

	done := make(chan struct{})
	go func() {
		job.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
