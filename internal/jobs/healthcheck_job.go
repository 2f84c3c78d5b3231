// Package jobs holds the runtime's background jobs. Each job owns a
// goroutine with a Start/Stop lifecycle and can also be triggered once,
// synchronously, by the cron endpoint.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/gateway/probe"
	"github.com/naap-platform/naap-runtime/internal/safego"
)

const (
	defaultConcurrency     = 5
	defaultProbeTimeout    = 10 * time.Second
	healthHistoryRetention = 30 * 24 * time.Hour
)

// ConnectorSource lists the connectors the sweep probes.
type ConnectorSource interface {
	ListPublished(ctx context.Context) ([]*models.ServiceConnector, error)
	ListPublishedForTeam(ctx context.Context, teamID string) ([]*models.ServiceConnector, error)
}

// CheckSink persists probe results and prunes old ones.
type CheckSink interface {
	Create(ctx context.Context, hc *models.GatewayHealthCheck) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ ConnectorSource = (*repositories.ConnectorRepository)(nil)
	_ CheckSink       = (*repositories.HealthCheckRepository)(nil)
)

// Summary reports one sweep.
type Summary struct {
	Checked  int `json:"checked"`
	Up       int `json:"up"`
	Degraded int `json:"degraded"`
	Down     int `json:"down"`
	Errors   int `json:"errors"`
}

// HealthCheckJob sweeps every published connector on an interval.
type HealthCheckJob struct {
	connectors   ConnectorSource
	checks       CheckSink
	tester       *probe.Tester
	interval     time.Duration
	concurrency  int64
	probeTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config tunes the job.
type Config struct {
	Interval     time.Duration
	Concurrency  int
	ProbeTimeout time.Duration
}

// NewHealthCheckJob wires a sweep job.
func NewHealthCheckJob(connectors ConnectorSource, checks CheckSink, tester *probe.Tester, cfg Config) *HealthCheckJob {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &HealthCheckJob{
		connectors:   connectors,
		checks:       checks,
		tester:       tester,
		interval:     cfg.Interval,
		concurrency:  int64(cfg.Concurrency),
		probeTimeout: cfg.ProbeTimeout,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the periodic sweep.
func (j *HealthCheckJob) Start() {
	j.wg.Add(1)
	safego.Go(func() {
		defer j.wg.Done()
		j.run()
	})
	slog.Info("health check job started", "interval", j.interval, "concurrency", j.concurrency)
}

// Stop halts the job and waits for an in-flight sweep.
func (j *HealthCheckJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	slog.Info("health check job stopped")
}

func (j *HealthCheckJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			if _, err := j.RunHealthCheck(context.Background()); err != nil {
				slog.Error("health check sweep", "error", err)
			}
			j.prune(context.Background())
		}
	}
}

// RunHealthCheck probes every published connector once, in bounded
// concurrency batches. A hung upstream consumes one semaphore slot until
// its per-connector timeout fires; it never stalls the rest of the batch.
func (j *HealthCheckJob) RunHealthCheck(ctx context.Context) (*Summary, error) {
	connectors, err := j.connectors.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	return j.sweep(ctx, connectors)
}

// RunHealthCheckForTeam sweeps one team's published connectors. The
// session-authenticated trigger uses this; the cron path covers all teams.
func (j *HealthCheckJob) RunHealthCheckForTeam(ctx context.Context, teamID string) (*Summary, error) {
	connectors, err := j.connectors.ListPublishedForTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return j.sweep(ctx, connectors)
}

func (j *HealthCheckJob) sweep(ctx context.Context, connectors []*models.ServiceConnector) (*Summary, error) {
	var (
		sem     = semaphore.NewWeighted(j.concurrency)
		mu      sync.Mutex
		summary = Summary{Checked: len(connectors)}
		wg      sync.WaitGroup
	)

	for _, conn := range connectors {
		if err := sem.Acquire(ctx, 1); err != nil {
			return &summary, err
		}
		conn := conn
		wg.Add(1)
		safego.Go(func() {
			defer wg.Done()
			defer sem.Release(1)

			probeCtx, cancel := context.WithTimeout(ctx, j.probeTimeout)
			defer cancel()

			check, err := j.tester.Test(probeCtx, conn)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				slog.Error("probe connector", "connector", conn.ID, "slug", conn.Slug, "error", err)
				return
			}

			switch check.Status {
			case models.CheckStatusUp:
				summary.Up++
			case models.CheckStatusDegraded:
				summary.Degraded++
			default:
				summary.Down++
			}

			if err := j.checks.Create(ctx, check); err != nil {
				summary.Errors++
				slog.Error("persist health check", "connector", conn.ID, "error", err)
			}
		})
	}
	wg.Wait()

	slog.Info("health check sweep complete",
		"checked", summary.Checked, "up", summary.Up,
		"degraded", summary.Degraded, "down", summary.Down, "errors", summary.Errors)
	return &summary, nil
}

func (j *HealthCheckJob) prune(ctx context.Context) {
	n, err := j.checks.PruneOlderThan(ctx, time.Now().Add(-healthHistoryRetention))
	if err != nil {
		slog.Error("prune health checks", "error", err)
		return
	}
	if n > 0 {
		slog.Info("pruned health checks", "rows", n)
	}
}
