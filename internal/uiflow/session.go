package uiflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// stepTimeout bounds one browser action inside a flow.
const stepTimeout = 10 * time.Second

// session owns the browser for the duration of one UI evaluation. It is
// closed unconditionally on every exit path.
type session struct {
	ctx     context.Context
	closeFn func()

	shotDir     string
	shotSeq     int
	screenshots []string

	mu            sync.Mutex
	consoleErrors []string
	networkErrors []string
}

// newSession starts a headless Chrome, wires the session-wide console and
// network error listeners, and prepares the screenshot directory.
func newSession(ctx context.Context, opts Options) (*session, error) {
	if strings.TrimSpace(opts.ScreenshotDir) != "" {
		if err := os.MkdirAll(opts.ScreenshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("uiflow: create screenshot dir: %w", err)
		}
	}

	budget := opts.Timeout
	if budget <= 0 {
		budget = 2 * time.Minute
	}
	sessCtx, budgetCancel := context.WithTimeout(ctx, budget)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
	)
	if path := strings.TrimSpace(opts.ChromePath); path != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(path))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(sessCtx, allocOpts...)
	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)

	s := &session{
		ctx:     chromeCtx,
		shotDir: opts.ScreenshotDir,
		closeFn: func() {
			chromeCancel()
			allocCancel()
			budgetCancel()
		},
	}

	chromedp.ListenTarget(chromeCtx, s.onEvent)

	if err := chromedp.Run(chromeCtx, network.Enable()); err != nil {
		s.close()
		return nil, fmt.Errorf("uiflow: start browser: %w", err)
	}
	return s, nil
}

func (s *session) close() {
	if s != nil && s.closeFn != nil {
		s.closeFn()
	}
}

// onEvent captures console errors and failed or 4xx+ network responses for
// the whole browser session; the snapshots are attached to every flow.
func (s *session) onEvent(ev any) {
	switch e := ev.(type) {
	case *cdpruntime.EventConsoleAPICalled:
		if e.Type != cdpruntime.APITypeError {
			return
		}
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if arg == nil {
				continue
			}
			if arg.Description != "" {
				parts = append(parts, arg.Description)
			} else if len(arg.Value) > 0 {
				parts = append(parts, string(arg.Value))
			}
		}
		s.addConsoleError(strings.Join(parts, " "))
	case *cdpruntime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		msg := e.ExceptionDetails.Text
		if exc := e.ExceptionDetails.Exception; exc != nil && exc.Description != "" {
			msg = exc.Description
		}
		s.addConsoleError(msg)
	case *network.EventResponseReceived:
		if e.Response != nil && e.Response.Status >= 400 {
			s.addNetworkError(fmt.Sprintf("%d %s", e.Response.Status, e.Response.URL))
		}
	case *network.EventLoadingFailed:
		s.addNetworkError(e.ErrorText)
	}
}

func (s *session) addConsoleError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	s.mu.Lock()
	s.consoleErrors = append(s.consoleErrors, msg)
	s.mu.Unlock()
}

func (s *session) addNetworkError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	s.mu.Lock()
	s.networkErrors = append(s.networkErrors, msg)
	s.mu.Unlock()
}

func (s *session) errorSnapshots() (console, netErrs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.consoleErrors...), append([]string(nil), s.networkErrors...)
}

// run executes browser actions under the per-step timeout.
func (s *session) run(actions ...chromedp.Action) error {
	if s == nil || s.ctx == nil {
		return errors.New("uiflow: no browser session")
	}
	ctx, cancel := context.WithTimeout(s.ctx, stepTimeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// screenshot captures the viewport into the screenshot directory and
// records the file path.
func (s *session) screenshot(name string) (string, error) {
	var buf []byte
	if err := s.run(chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", err
	}
	if s.shotDir == "" {
		return "", nil
	}
	s.shotSeq++
	path := filepath.Join(s.shotDir, fmt.Sprintf("%03d-%s.png", s.shotSeq, name))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("uiflow: write screenshot: %w", err)
	}
	s.screenshots = append(s.screenshots, path)
	return path, nil
}

// probeScript finds the first visible element for one matcher candidate and
// tags it so a follow-up action can address it by a stable selector. Returns
// the tag selector or "".
const probeScript = `(function(kind, query) {
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	};
	const mark = (el) => {
		document.querySelectorAll('[data-runvet-target]').forEach(e => e.removeAttribute('data-runvet-target'));
		el.setAttribute('data-runvet-target', '1');
		return '[data-runvet-target]';
	};
	if (kind === 'css') {
		let els;
		try { els = document.querySelectorAll(query); } catch (e) { return ''; }
		for (const el of els) { if (visible(el)) return mark(el); }
		return '';
	}
	const label = query.toLowerCase();
	const els = document.querySelectorAll('button, a, input[type="button"], input[type="submit"], [role="button"]');
	for (const el of els) {
		const text = (el.innerText || el.value || '').trim().toLowerCase();
		if (text === label && visible(el)) return mark(el);
	}
	return '';
})(%q, %q)`

// probeMatcher evaluates one matcher candidate in the page.
func (s *session) probeMatcher(m matcher) (string, bool) {
	var handle string
	err := s.run(chromedp.Evaluate(fmt.Sprintf(probeScript, m.kind, m.query), &handle))
	if err != nil || handle == "" {
		return "", false
	}
	return handle, true
}

// collectHrefs returns the raw href attributes under one selector group, in
// encounter order.
func (s *session) collectHrefs(group string) []string {
	script := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => a.getAttribute('href') || '')`, group)
	var hrefs []string
	if err := s.run(chromedp.Evaluate(script, &hrefs)); err != nil {
		return nil
	}
	return hrefs
}
