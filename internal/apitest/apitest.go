// Package apitest probes a running target's API surface under uncertainty:
// endpoints come from a discovered API description when one exists, else
// from a fixed convention list.
package apitest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/runvet/runvet/internal/stage"
)

// Result records one endpoint probe. Never mutated after creation.
type Result struct {
	Endpoint string        `json:"endpoint"`
	Method   string        `json:"method"`
	Status   int           `json:"status"` // 0 if unreachable
	Passed   bool          `json:"passed"`
	Latency  time.Duration `json:"latency"`
	Note     string        `json:"note,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// Options configures an API surface test.
type Options struct {
	BaseURL    string
	ProjectDir string
	Timeout    time.Duration // per-probe budget
	// StrictClientErrors makes 4xx responses count as failures. By default a
	// client error (auth required, not found) still proves something is
	// listening and answering, and passes with a note.
	StrictClientErrors bool
	Client             *http.Client
}

// Run probes each discovered candidate independently with its own timeout
// and reduces the outcomes into one stage result. The stage passes if at
// least one probe passed; it is never skipped by this component.
func Run(ctx context.Context, opts Options) (stage.Result, []Result) {
	start := time.Now()
	out := stage.Result{Kind: stage.KindAPI, Status: stage.StatusRunning}

	if ctx == nil {
		out.Status = stage.StatusFailed
		out.Errors = append(out.Errors, "apitest: nil context")
		return out, nil
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		out.Status = stage.StatusFailed
		out.Errors = append(out.Errors, "apitest: empty base url")
		return out, nil
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	endpoints, source := discoverEndpoints(ctx, client, opts.BaseURL, opts.ProjectDir, timeout)

	results := make([]Result, 0, len(endpoints))
	passed := 0
	for _, ep := range endpoints {
		r := probeEndpoint(ctx, client, opts.BaseURL, ep, timeout, opts.StrictClientErrors)
		if r.Passed {
			passed++
		} else if r.Err != "" {
			out.Errors = append(out.Errors, fmt.Sprintf("%s %s: %s", r.Method, r.Endpoint, r.Err))
		}
		results = append(results, r)
	}

	total := len(results)
	score := 0
	if total > 0 {
		score = int(math.Round(float64(passed) / float64(total) * 100))
	}
	out.Score = stage.ScoreOf(score)
	out.Duration = time.Since(start)
	out.Details = fmt.Sprintf("%d/%d endpoints reachable (%s)", passed, total, source)
	if passed > 0 {
		out.Status = stage.StatusPassed
	} else {
		out.Status = stage.StatusFailed
	}
	return out, results
}

func probeEndpoint(ctx context.Context, client *http.Client, baseURL string, ep Endpoint, timeout time.Duration, strict bool) Result {
	endpoint := strings.TrimRight(strings.TrimSpace(baseURL), "/") + ep.Path
	res := Result{Endpoint: endpoint, Method: ep.Method}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, ep.Method, endpoint, nil)
	if err != nil {
		res.Err = fmt.Sprintf("apitest: build request: %v", err)
		return res
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		// Unreachable (network failure or per-probe timeout) is always a
		// failure; the probe is abandoned, not retried.
		res.Err = err.Error()
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	res.Status = resp.StatusCode
	switch {
	case resp.StatusCode < 400:
		res.Passed = true
	case resp.StatusCode < 500:
		if strict {
			res.Err = fmt.Sprintf("apitest: status %d", resp.StatusCode)
		} else {
			res.Passed = true
			res.Note = fmt.Sprintf("status %d: endpoint reachable but gated (auth or missing resource)", resp.StatusCode)
		}
	default:
		res.Err = fmt.Sprintf("apitest: status %d", resp.StatusCode)
	}
	return res
}
