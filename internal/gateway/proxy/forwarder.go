// Package proxy forwards gateway requests to connector upstreams. The
// forwarder is the one place runtime traffic leaves the platform, so it
// carries the SSRF guards: host allow-list, private and loopback address
// rejection at dial time, no redirect following, hop-by-hop header
// scrubbing and a bounded response body.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/naap-platform/naap-runtime/internal/gateway/resolve"
	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

// MaxResponseBytes bounds proxied response bodies.
const MaxResponseBytes = 10 << 20 // 10 MiB

var (
	// ErrHostNotAllowed is returned when the upstream host is not on the
	// connector's allow-list.
	ErrHostNotAllowed = errors.New("proxy: host not allowed")
	// ErrPrivateAddress is returned when the upstream resolves to a
	// private, loopback or link-local address.
	ErrPrivateAddress = errors.New("proxy: upstream resolves to a private address")
	// ErrUpstreamUnreachable wraps dial and transport failures.
	ErrUpstreamUnreachable = errors.New("proxy: upstream unreachable")
)

// hopByHopHeaders never cross the proxy in either direction.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Forwarder proxies requests to allow-listed upstreams.
type Forwarder struct {
	client *http.Client
	// allowPrivate admits RFC1918 and loopback upstreams, for development
	// against local stubs only.
	allowPrivate bool
}

// NewForwarder creates a forwarder. allowPrivate must stay false outside
// development.
func NewForwarder(timeout time.Duration, allowPrivate bool) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		// The private-address check runs on the resolved address at dial
		// time, after DNS, so a hostname that resolves to 127.0.0.1 is
		// caught too.
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if !allowPrivate {
				if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok && isPrivate(tcp.IP) {
					conn.Close()
					return nil, ErrPrivateAddress
				}
			}
			return conn, nil
		},
		MaxIdleConnsPerHost: 16,
	}

	return &Forwarder{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects could walk off the allow-list.
				return http.ErrUseLastResponse
			},
		},
		allowPrivate: allowPrivate,
	}
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// hostAllowed checks the request host against the connector allow-list.
// Entries match the hostname exactly, case-insensitively.
func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(host, a) {
			return true
		}
	}
	return false
}

// Forward proxies one request to the resolved connector's upstream path and
// writes the upstream response to w.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, resolved *resolve.Resolved, upstreamPath string) error {
	base, err := url.Parse(resolved.Connector.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("unsupported upstream scheme %q", base.Scheme)
	}
	if !hostAllowed(base.Hostname(), resolved.Connector.AllowedHosts) {
		telemetry.ProxiedRequestsTotal.WithLabelValues("blocked").Inc()
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, base.Hostname())
	}

	target := *base
	target.Path = singleJoin(base.Path, upstreamPath)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return err
	}
	copyHeaders(req.Header, r.Header)
	scrubHeaders(req.Header)
	// The platform session must never reach a third-party upstream.
	req.Header.Del("Authorization")
	req.Header.Del("Cookie")
	req.Header.Del("X-Team-Id")
	req.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := f.client.Do(req)
	if err != nil {
		telemetry.ProxiedRequestsTotal.WithLabelValues("upstream_error").Inc()
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	scrubHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, MaxResponseBytes)); err != nil {
		telemetry.ProxiedRequestsTotal.WithLabelValues("copy_error").Inc()
		return err
	}

	telemetry.ProxiedRequestsTotal.WithLabelValues("ok").Inc()
	return nil
}

func singleJoin(a, b string) string {
	switch {
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/") && b != "":
		return a + "/" + b
	default:
		return a + b
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func scrubHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
