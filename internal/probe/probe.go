// Package probe converts "is the target up yet" into a bounded polling
// protocol over TCP reachability and HTTP health endpoints.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PollInterval is the fixed delay between reachability probes.
const PollInterval = 500 * time.Millisecond

// healthPaths is the ordered priority list tried by CheckHealth. The first
// endpoint answering with a sub-500 status wins; the list is a priority
// order, not an exhaustive scan.
var healthPaths = []string{
	"/health",
	"/healthz",
	"/api/health",
	"/api/healthz",
	"/api/status",
	"/",
}

// perCheckTimeout bounds one CheckHealth request inside WaitForHealthy.
const perCheckTimeout = 2 * time.Second

// HealthCheckResult is the outcome of one health check. Only the final
// result of a polling loop is retained.
type HealthCheckResult struct {
	Reachable  bool          `json:"reachable"`
	Endpoint   string        `json:"endpoint,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Err        string        `json:"error,omitempty"`
}

// Prober issues readiness probes. The zero value is not usable; call New.
type Prober struct {
	client   *http.Client
	interval time.Duration
}

// New returns a Prober with the default HTTP client and poll interval.
func New() *Prober {
	return &Prober{
		client:   &http.Client{},
		interval: PollInterval,
	}
}

// WithInterval overrides the poll interval. Intended for tests.
func (p *Prober) WithInterval(d time.Duration) *Prober {
	if d > 0 {
		p.interval = d
	}
	return p
}

// WaitForPort polls TCP reachability of host:port until a connection
// succeeds or the timeout elapses. Connection refused is "not ready yet",
// not an error. Returns false no earlier than the timeout and no later than
// the timeout plus one poll interval.
func (p *Prober) WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if p == nil || ctx == nil || port <= 0 {
		return false
	}
	if strings.TrimSpace(host) == "" {
		host = "127.0.0.1"
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		// Each dial is budgeted inside the remaining deadline so a
		// filtered host (dial hangs instead of refusing) cannot push the
		// return past the timeout plus one poll interval.
		budget := p.interval
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
		if budget <= 0 {
			if attempt > 0 {
				return false
			}
			budget = p.interval
		}
		conn, err := net.DialTimeout("tcp", addr, budget)
		if err == nil {
			_ = conn.Close()
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.interval):
		}
	}
}

// CheckHealth tries the fixed candidate paths against one base URL in
// priority order and returns the first endpoint that answers with a sub-500
// status. Status codes below 500 count as "the process is alive" regardless
// of semantic correctness (401/403/404 included); all candidates must fail
// for the result to report unreachable.
func (p *Prober) CheckHealth(ctx context.Context, baseURL string, timeout time.Duration) HealthCheckResult {
	if p == nil || ctx == nil {
		return HealthCheckResult{Err: "probe: nil prober or context"}
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return HealthCheckResult{Err: "probe: empty base url"}
	}

	start := time.Now()
	lastErr := ""
	for _, path := range healthPaths {
		endpoint := base + path
		status, err := p.get(ctx, endpoint, timeout)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		if status < 500 {
			return HealthCheckResult{
				Reachable:  true,
				Endpoint:   endpoint,
				StatusCode: status,
				Latency:    time.Since(start),
			}
		}
		lastErr = fmt.Sprintf("probe: %s returned %d", endpoint, status)
	}

	return HealthCheckResult{
		Latency: time.Since(start),
		Err:     lastErr,
	}
}

// WaitForHealthy repeatedly runs CheckHealth against both host-name variants
// of the base URL (the 127.0.0.1 form and the localhost form) until one is
// reachable or the timeout elapses. Some runtimes bind to one form but not
// the other.
func (p *Prober) WaitForHealthy(ctx context.Context, baseURL string, timeout, interval time.Duration) HealthCheckResult {
	if p == nil || ctx == nil {
		return HealthCheckResult{Err: "probe: nil prober or context"}
	}
	if interval <= 0 {
		interval = p.interval
	}

	variants := hostVariants(baseURL)
	deadline := time.Now().Add(timeout)
	last := HealthCheckResult{Err: "probe: no health check attempted"}
	for {
		for _, v := range variants {
			last = p.CheckHealth(ctx, v, perCheckTimeout)
			if last.Reachable {
				return last
			}
		}
		if time.Now().After(deadline) {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(interval):
		}
	}
}

func (p *Prober) get(ctx context.Context, endpoint string, timeout time.Duration) (int, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("probe: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe: %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

// hostVariants returns the base URL plus its sibling host form: a
// 127.0.0.1 URL also yields the localhost form and vice versa. Other hosts
// yield only themselves.
func hostVariants(baseURL string) []string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return []string{base}
	}

	var sibling string
	switch u.Hostname() {
	case "127.0.0.1":
		sibling = "localhost"
	case "localhost":
		sibling = "127.0.0.1"
	default:
		return []string{base}
	}

	alt := *u
	if port := u.Port(); port != "" {
		alt.Host = net.JoinHostPort(sibling, port)
	} else {
		alt.Host = sibling
	}
	return []string{base, alt.String()}
}
