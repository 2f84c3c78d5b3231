// Package provision implements blue/green plugin deployment: deploy the new
// version into the inactive slot, verify it with the post-install health
// check, then promote it and tear down the old slot. Failure at any point
// rolls the deployment back and leaves the previously active slot serving.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/hooks"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/ports"
	"github.com/naap-platform/naap-runtime/internal/lifecycle/versions"
	"github.com/naap-platform/naap-runtime/internal/orchestrator"
	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

const defaultHealthPath = "/health"

// ErrHealthCheckFailed is returned when the new slot never became healthy.
var ErrHealthCheckFailed = errors.New("provision: post-install health check failed")

// Request describes one provisioning run.
type Request struct {
	DeploymentID string                `json:"deployment_id"`
	Manifest     models.PluginManifest `json:"manifest"`
	Env          map[string]string     `json:"env,omitempty"`
}

// Outcome reports what a successful provision did.
type Outcome struct {
	DeploymentID string          `json:"deployment_id"`
	Version      string          `json:"version"`
	Slot         string          `json:"slot"`
	BackendURL   *string         `json:"backend_url,omitempty"`
	PreviousSlot *string         `json:"previous_slot,omitempty"`
	Database     *DatabaseStatus `json:"database,omitempty"`
}

// DatabaseStatus reports the namespace attached to a provision. Probed is
// always false today: schema connectivity is asserted, not checked.
type DatabaseStatus struct {
	Namespace string `json:"namespace"`
	Healthy   bool   `json:"healthy"`
	Probed    bool   `json:"probed"`
}

// SlotStore is the slice of the slot repository the provisioner needs.
type SlotStore interface {
	GetSlot(ctx context.Context, deploymentID, slot string) (*models.PluginDeploymentSlot, error)
	CreateSlot(ctx context.Context, s *models.PluginDeploymentSlot) error
	ReplaceDeployment(ctx context.Context, s *models.PluginDeploymentSlot) error
	SetStatus(ctx context.Context, slotID, status string) error
}

var _ SlotStore = (*repositories.SlotRepository)(nil)

// DatabaseManager provisions and drops per-plugin database namespaces.
type DatabaseManager interface {
	EnsureNamespace(ctx context.Context, namespace string) error
	DropNamespace(ctx context.Context, namespace string) error
}

var _ DatabaseManager = (*repositories.SchemaManager)(nil)

// Provisioner deploys plugin versions into deployment slots.
type Provisioner struct {
	slots            SlotStore
	ports            *ports.Allocator
	hooks            *hooks.Executor
	orch             orchestrator.Orchestrator
	dbns             DatabaseManager
	client           *http.Client
	healthAttempts   int
	healthRetryDelay time.Duration
}

// Config carries provisioner tuning.
type Config struct {
	HealthAttempts   int
	HealthRetryDelay time.Duration
}

// NewProvisioner wires a provisioner from its collaborators.
func NewProvisioner(slots SlotStore, alloc *ports.Allocator, hookExec *hooks.Executor, orch orchestrator.Orchestrator, dbns DatabaseManager, cfg Config) *Provisioner {
	if cfg.HealthAttempts <= 0 {
		cfg.HealthAttempts = 5
	}
	if cfg.HealthRetryDelay <= 0 {
		cfg.HealthRetryDelay = 2 * time.Second
	}
	return &Provisioner{
		slots:            slots,
		ports:            alloc,
		hooks:            hookExec,
		orch:             orch,
		dbns:             dbns,
		client:           &http.Client{Timeout: 10 * time.Second},
		healthAttempts:   cfg.HealthAttempts,
		healthRetryDelay: cfg.HealthRetryDelay,
	}
}

func validateManifest(m *models.PluginManifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("manifest name is required")
	}
	if _, err := versions.Validate(m.Version); err != nil {
		return err
	}
	if m.Components.Backend != nil && m.Components.Backend.Image == "" {
		return errors.New("backend component requires an image")
	}
	for action, hook := range m.Hooks {
		if err := hooks.ValidateScript(hook.Script); err != nil {
			return fmt.Errorf("hook %s: %w", action, err)
		}
	}
	return nil
}

// DeriveDBNamespace maps a plugin name onto a stable Postgres schema name.
// The mapping is deterministic so re-provisioning a plugin reuses its schema.
func DeriveDBNamespace(name string) string {
	var b strings.Builder
	b.WriteString("plugin_")
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// portKey is the allocator key for one deployment slot.
func portKey(deploymentID, slot string) string {
	return deploymentID + "/" + slot
}

// targetSlot picks the slot to deploy into: the one that is not currently
// active, blue for a first deployment.
func (p *Provisioner) targetSlot(ctx context.Context, deploymentID string) (target string, active *models.PluginDeploymentSlot, err error) {
	blue, err := p.slots.GetSlot(ctx, deploymentID, models.SlotBlue)
	if err != nil {
		return "", nil, err
	}
	green, err := p.slots.GetSlot(ctx, deploymentID, models.SlotGreen)
	if err != nil {
		return "", nil, err
	}

	if blue != nil && blue.Status == models.SlotStatusActive {
		return models.SlotGreen, blue, nil
	}
	if green != nil && green.Status == models.SlotStatusActive {
		return models.SlotBlue, green, nil
	}
	return models.SlotBlue, nil, nil
}

// Provision deploys the manifest's version into the inactive slot and
// promotes it. On any failure the new slot's resources are torn down and the
// previously active slot keeps serving.
func (p *Provisioner) Provision(ctx context.Context, req *Request) (*Outcome, error) {
	if err := validateManifest(&req.Manifest); err != nil {
		telemetry.ProvisionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	target, active, err := p.targetSlot(ctx, req.DeploymentID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.Version == req.Manifest.Version {
		return nil, fmt.Errorf("version %s is already active", req.Manifest.Version)
	}

	log := slog.With("deployment", req.DeploymentID, "version", req.Manifest.Version, "slot", target)
	log.Info("provisioning plugin")

	var (
		port        int
		containerID string
		backendURL  *string
		dbNamespace *string
	)
	// Each step is guarded on its own so one failed teardown never blocks
	// the rest.
	cleanup := func() {
		if containerID != "" {
			if err := p.orch.Teardown(context.WithoutCancel(ctx), containerID); err != nil {
				log.Warn("teardown of failed slot", "container", containerID, "error", err)
			}
		}
		if port != 0 {
			p.ports.Release(portKey(req.DeploymentID, target))
		}
		if dbNamespace != nil && !namespaceInUse(active, *dbNamespace) {
			if err := p.dbns.DropNamespace(context.WithoutCancel(ctx), *dbNamespace); err != nil {
				log.Warn("drop namespace of failed slot", "namespace", *dbNamespace, "error", err)
			}
		}
	}

	if req.Manifest.Components.Database != nil {
		ns := DeriveDBNamespace(req.Manifest.Name)
		if err := p.dbns.EnsureNamespace(ctx, ns); err != nil {
			telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("ensure database namespace: %w", err)
		}
		dbNamespace = &ns
	}

	if backend := req.Manifest.Components.Backend; backend != nil {
		port, err = p.ports.Allocate(portKey(req.DeploymentID, target))
		if err != nil {
			cleanup()
			telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}

		env := map[string]string{
			"PORT":        fmt.Sprintf("%d", port),
			"PLUGIN_NAME": req.Manifest.Name,
			"PLUGIN_SLOT": target,
		}
		if dbNamespace != nil {
			env["PLUGIN_DB_SCHEMA"] = *dbNamespace
		}
		for k, v := range req.Env {
			env[k] = v
		}

		containerID, err = p.orch.Deploy(ctx, orchestrator.DeploymentSpec{
			Name:  fmt.Sprintf("naap-%s-%s", req.DeploymentID, target),
			Image: backend.Image,
			Port:  port,
			Env:   env,
			Labels: map[string]string{
				"naap.deployment": req.DeploymentID,
				"naap.slot":       target,
				"naap.version":    req.Manifest.Version,
			},
		})
		if err != nil {
			cleanup()
			telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("deploy backend: %w", err)
		}

		u := fmt.Sprintf("http://127.0.0.1:%d", port)
		backendURL = &u
	}

	if hook, ok := req.Manifest.Hooks[models.HookPostInstall]; ok {
		if _, err := p.hooks.Execute(ctx, req.Manifest.Name, models.HookPostInstall, hook); err != nil {
			cleanup()
			telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("post-install hook: %w", err)
		}
	}

	if backendURL != nil {
		healthPath := defaultHealthPath
		if req.Manifest.Components.Backend.HealthPath != "" {
			healthPath = req.Manifest.Components.Backend.HealthPath
		}
		if err := p.PostInstallHealthCheck(ctx, *backendURL+healthPath); err != nil {
			cleanup()
			telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
	}

	// The new slot is verified; record it active and retire the old one.
	newSlot := &models.PluginDeploymentSlot{
		DeploymentID: req.DeploymentID,
		Slot:         target,
		Status:       models.SlotStatusActive,
		Version:      req.Manifest.Version,
		BackendURL:   backendURL,
		HealthStatus: models.HealthStatusHealthy,
	}
	if containerID != "" {
		newSlot.ContainerID = &containerID
	}
	if port != 0 {
		newSlot.Port = &port
	}
	newSlot.DBNamespace = dbNamespace

	existing, err := p.slots.GetSlot(ctx, req.DeploymentID, target)
	if err != nil {
		cleanup()
		return nil, err
	}
	if existing != nil {
		// Reuse the row: slots are a fixed pair per deployment.
		newSlot.ID = existing.ID
		if err := p.slots.ReplaceDeployment(ctx, newSlot); err != nil {
			cleanup()
			telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
	} else if err := p.slots.CreateSlot(ctx, newSlot); err != nil {
		cleanup()
		telemetry.ProvisionsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	outcome := &Outcome{
		DeploymentID: req.DeploymentID,
		Version:      req.Manifest.Version,
		Slot:         target,
		BackendURL:   backendURL,
	}
	if dbNamespace != nil {
		// Healthy is asserted: there is no connectivity probe for plugin
		// schemas, and Probed records that.
		log.Warn("database namespace reported healthy without connectivity check", "namespace", *dbNamespace)
		outcome.Database = &DatabaseStatus{Namespace: *dbNamespace, Healthy: true, Probed: false}
	}

	if active != nil {
		outcome.PreviousSlot = &active.Slot
		if err := p.slots.SetStatus(ctx, active.ID, models.SlotStatusInactive); err != nil {
			log.Error("deactivate previous slot", "slot", active.Slot, "error", err)
		}
		p.retireSlot(ctx, active, newSlot.DBNamespace, log)
	}

	telemetry.ProvisionsTotal.WithLabelValues("success").Inc()
	log.Info("provision complete")
	return outcome, nil
}

// retireSlot tears down the container, releases the port and drops the
// database namespace of a slot that is no longer serving. keepNamespace is
// the namespace the surviving slot still uses; a retired slot sharing it
// does not drop it. Each step is independently guarded.
func (p *Provisioner) retireSlot(ctx context.Context, slot *models.PluginDeploymentSlot, keepNamespace *string, log *slog.Logger) {
	if slot.ContainerID != nil {
		if err := p.orch.Teardown(ctx, *slot.ContainerID); err != nil {
			log.Warn("teardown of retired slot", "container", *slot.ContainerID, "error", err)
		}
	}
	if slot.Port != nil {
		p.ports.Release(portKey(slot.DeploymentID, slot.Slot))
	}
	if slot.DBNamespace != nil && (keepNamespace == nil || *keepNamespace != *slot.DBNamespace) {
		if err := p.dbns.DropNamespace(ctx, *slot.DBNamespace); err != nil {
			log.Warn("drop namespace of retired slot", "namespace", *slot.DBNamespace, "error", err)
		}
	}
}

// namespaceInUse reports whether the still-active slot references namespace.
func namespaceInUse(active *models.PluginDeploymentSlot, namespace string) bool {
	return active != nil && active.DBNamespace != nil && *active.DBNamespace == namespace
}

// PostInstallHealthCheck polls the backend's health endpoint until it
// answers 2xx. An HTTP 4xx/5xx answer is definitive: the process is up and
// refusing, so retrying will not help. Network errors mean the process is
// still starting and are retried.
func (p *Provisioner) PostInstallHealthCheck(ctx context.Context, healthURL string) error {
	var lastErr error
	for attempt := 1; attempt <= p.healthAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}

		resp, err := p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			return fmt.Errorf("%w: status %d from %s", ErrHealthCheckFailed, resp.StatusCode, healthURL)
		}
		lastErr = err

		if attempt < p.healthAttempts {
			select {
			case <-time.After(p.healthRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrHealthCheckFailed, lastErr)
}

// Rollback reactivates the inactive slot of a deployment and retires the
// currently active one. Used after a bad release when the previous slot's
// container is still running.
func (p *Provisioner) Rollback(ctx context.Context, deploymentID string) (*Outcome, error) {
	blue, err := p.slots.GetSlot(ctx, deploymentID, models.SlotBlue)
	if err != nil {
		return nil, err
	}
	green, err := p.slots.GetSlot(ctx, deploymentID, models.SlotGreen)
	if err != nil {
		return nil, err
	}

	var active, standby *models.PluginDeploymentSlot
	for _, s := range []*models.PluginDeploymentSlot{blue, green} {
		if s == nil {
			continue
		}
		if s.Status == models.SlotStatusActive {
			active = s
		} else {
			standby = s
		}
	}
	if standby == nil {
		return nil, errors.New("no standby slot to roll back to")
	}

	log := slog.With("deployment", deploymentID, "slot", standby.Slot)

	// Standby backends must still answer before traffic moves back.
	if standby.BackendURL != nil {
		if err := p.PostInstallHealthCheck(ctx, *standby.BackendURL+defaultHealthPath); err != nil {
			return nil, fmt.Errorf("standby slot unhealthy: %w", err)
		}
	}

	if err := p.slots.SetStatus(ctx, standby.ID, models.SlotStatusActive); err != nil {
		return nil, err
	}
	if active != nil {
		if err := p.slots.SetStatus(ctx, active.ID, models.SlotStatusInactive); err != nil {
			return nil, err
		}
		p.retireSlot(ctx, active, standby.DBNamespace, log)
	}

	telemetry.SlotRollbacksTotal.Inc()
	log.Info("deployment rolled back", "version", standby.Version)

	out := &Outcome{
		DeploymentID: deploymentID,
		Version:      standby.Version,
		Slot:         standby.Slot,
		BackendURL:   standby.BackendURL,
	}
	if active != nil {
		out.PreviousSlot = &active.Slot
	}
	return out, nil
}
