// Package probe tests connectivity from the gateway to a connector's
// upstream. A probe is one GET against the connector's health check path
// with the connector's auth applied, classified as up, degraded or down.
package probe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/naap-platform/naap-runtime/internal/crypto"
	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

// DegradedThreshold is the latency above which a successful probe is
// reported degraded rather than up.
const DefaultDegradedThreshold = 2 * time.Second

// Tester probes connector upstreams.
type Tester struct {
	client            *http.Client
	cipher            *crypto.SecretCipher
	degradedThreshold time.Duration
}

// NewTester creates a tester. cipher may be nil when connectors store no
// encrypted credentials.
func NewTester(timeout time.Duration, degradedThreshold time.Duration, cipher *crypto.SecretCipher) *Tester {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if degradedThreshold <= 0 {
		degradedThreshold = DefaultDegradedThreshold
	}
	return &Tester{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// A health endpoint that redirects is answering; don't follow
				// it off the allow-listed host.
				return http.ErrUseLastResponse
			},
		},
		cipher:            cipher,
		degradedThreshold: degradedThreshold,
	}
}

// Test probes one connector and returns the check result. The result is
// always non-nil on a well-formed connector; infrastructure errors (bad URL,
// missing credentials) come back as error instead.
func (t *Tester) Test(ctx context.Context, c *models.ServiceConnector) (*models.GatewayHealthCheck, error) {
	probeURL, err := buildProbeURL(c)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "naap-gateway-probe/1.0")
	if err := t.applyAuth(req, c); err != nil {
		return nil, err
	}

	check := &models.GatewayHealthCheck{
		ConnectorID: c.ID,
		CheckedAt:   time.Now(),
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	latency := time.Since(start)
	check.LatencyMs = int(latency.Milliseconds())

	if err != nil {
		msg := err.Error()
		check.Status = models.CheckStatusDown
		check.Error = &msg
	} else {
		resp.Body.Close()
		code := resp.StatusCode
		check.StatusCode = &code
		switch {
		case code >= 200 && code < 400 && latency > t.degradedThreshold:
			check.Status = models.CheckStatusDegraded
		case code >= 200 && code < 400:
			check.Status = models.CheckStatusUp
		default:
			msg := fmt.Sprintf("upstream returned status %d", code)
			check.Status = models.CheckStatusDown
			check.Error = &msg
		}
	}

	telemetry.ConnectorProbesTotal.WithLabelValues(check.Status).Inc()
	telemetry.ConnectorProbeDuration.Observe(latency.Seconds())
	return check, nil
}

func buildProbeURL(c *models.ServiceConnector) (string, error) {
	base, err := url.Parse(c.UpstreamBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("unsupported upstream scheme %q", base.Scheme)
	}

	path := c.HealthCheckPath
	if path == "" {
		path = "/"
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid health check path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// applyAuth attaches the connector's upstream credentials to the request.
// Secret values are stored encrypted; a nil cipher passes them through for
// connectors created before encryption was enabled.
func (t *Tester) applyAuth(req *http.Request, c *models.ServiceConnector) error {
	switch c.AuthType {
	case "", models.AuthTypeNone:
		return nil
	case models.AuthTypeAPIKey:
		header := configString(c.AuthConfig, "header")
		if header == "" {
			header = "X-Api-Key"
		}
		value, err := t.secret(c.AuthConfig, "key")
		if err != nil {
			return err
		}
		req.Header.Set(header, value)
	case models.AuthTypeBearer:
		token, err := t.secret(c.AuthConfig, "token")
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case models.AuthTypeBasic:
		username := configString(c.AuthConfig, "username")
		password, err := t.secret(c.AuthConfig, "password")
		if err != nil {
			return err
		}
		basic := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		req.Header.Set("Authorization", "Basic "+basic)
	default:
		return fmt.Errorf("unknown auth type %q", c.AuthType)
	}
	return nil
}

func configString(cfg map[string]interface{}, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func (t *Tester) secret(cfg map[string]interface{}, key string) (string, error) {
	raw := configString(cfg, key)
	if raw == "" {
		return "", fmt.Errorf("auth config missing %q", key)
	}
	if t.cipher == nil {
		return raw, nil
	}
	plain, err := t.cipher.Open(raw)
	if err != nil {
		if err == crypto.ErrCiphertextCorrupted {
			// Pre-encryption rows hold plaintext values.
			return raw, nil
		}
		return "", err
	}
	return plain, nil
}
