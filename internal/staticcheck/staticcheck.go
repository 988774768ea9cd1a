// Package staticcheck inspects the served root document for conventional
// page structure. It produces the "static" category stage.
package staticcheck

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/runvet/runvet/internal/stage"
)

// check is one named document inspection.
type check struct {
	name string
	ok   func(doc *goquery.Document) bool
}

var checks = []check{
	{name: "title", ok: func(doc *goquery.Document) bool {
		return strings.TrimSpace(doc.Find("title").First().Text()) != ""
	}},
	{name: "main landmark", ok: func(doc *goquery.Document) bool {
		return doc.Find(`main, [role="main"], #root, #app, #__next`).Length() > 0
	}},
	{name: "viewport meta", ok: func(doc *goquery.Document) bool {
		return doc.Find(`meta[name="viewport"]`).Length() > 0
	}},
	{name: "stylesheet or script", ok: func(doc *goquery.Document) bool {
		return doc.Find(`link[rel="stylesheet"], script[src]`).Length() > 0
	}},
	{name: "body content", ok: func(doc *goquery.Document) bool {
		return strings.TrimSpace(doc.Find("body").Text()) != "" || doc.Find("body *").Length() > 0
	}},
}

// Options configures the static document inspection.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// Run fetches the root document and scores it against the conventional
// structure checks. The stage fails only when the document cannot be
// fetched or parsed; individual check misses lower the score.
func Run(ctx context.Context, opts Options) stage.Result {
	start := time.Now()
	out := stage.Result{Kind: stage.KindStatic}

	if ctx == nil {
		out.Status = stage.StatusFailed
		out.Errors = append(out.Errors, "staticcheck: nil context")
		out.Duration = time.Since(start)
		return out
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(opts.BaseURL, "/")+"/", nil)
	if err != nil {
		return failed(out, start, fmt.Sprintf("staticcheck: build request: %v", err))
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return failed(out, start, fmt.Sprintf("staticcheck: fetch root: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return failed(out, start, fmt.Sprintf("staticcheck: root returned %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return failed(out, start, fmt.Sprintf("staticcheck: parse document: %v", err))
	}

	passed := 0
	var misses []string
	for _, c := range checks {
		if c.ok(doc) {
			passed++
		} else {
			misses = append(misses, c.name)
		}
	}

	out.Status = stage.StatusPassed
	out.Score = stage.ScoreOf(int(math.Round(float64(passed) / float64(len(checks)) * 100)))
	out.Details = fmt.Sprintf("%d/%d document checks passed", passed, len(checks))
	if len(misses) > 0 {
		out.Details += " (missing: " + strings.Join(misses, ", ") + ")"
	}
	out.Duration = time.Since(start)
	return out
}

func failed(out stage.Result, start time.Time, msg string) stage.Result {
	out.Status = stage.StatusFailed
	out.Score = stage.ScoreOf(0)
	out.Errors = append(out.Errors, msg)
	out.Duration = time.Since(start)
	return out
}
