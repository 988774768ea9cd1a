package uiflow

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// step is one declared automation action. Runs in declared order, never
// reordered or parallelized.
type step struct {
	kind   string
	target string
	run    func() (screenshot string, err error)
}

// runFlow executes steps strictly in order and stops at the first failure.
// Every step failure captures a best-effort error screenshot before the
// failure is recorded; a screenshot failure is swallowed, never escalated.
func (s *session) runFlow(name string, steps []step) FlowResult {
	flow := FlowResult{Name: name, Passed: true}
	start := time.Now()

	for _, st := range steps {
		sr := StepResult{Kind: st.kind, Target: st.target}
		stepStart := time.Now()
		shot, err := st.run()
		sr.Duration = time.Since(stepStart)
		sr.Screenshot = shot
		if err != nil {
			sr.Err = err.Error()
			if failShot, shotErr := s.screenshot("failure-" + st.kind); shotErr == nil && sr.Screenshot == "" {
				sr.Screenshot = failShot
			}
			flow.Steps = append(flow.Steps, sr)
			flow.Passed = false
			break
		}
		sr.Passed = true
		flow.Steps = append(flow.Steps, sr)
	}

	flow.Duration = time.Since(start)
	return flow
}

// baselineFlow is the fixed four-step smoke flow: navigate to root, wait for
// the page body, capture a screenshot, assert a recognizable main-content
// container. It must pass before any exploratory automation proceeds.
func (s *session) baselineFlow(baseURL string) FlowResult {
	steps := []step{
		{kind: StepNavigate, target: baseURL, run: func() (string, error) {
			return "", s.run(chromedp.Navigate(baseURL))
		}},
		{kind: StepWait, target: "body", run: func() (string, error) {
			return "", s.run(chromedp.WaitVisible("body", chromedp.ByQuery))
		}},
		{kind: StepScreenshot, target: "landing", run: func() (string, error) {
			return s.screenshot("landing")
		}},
		{kind: StepAssert, target: "main content", run: func() (string, error) {
			if _, _, ok := firstMatch(mainContentCandidates, s.probeMatcher, nil); !ok {
				return "", errors.New("uiflow: no recognizable main-content container")
			}
			return "", nil
		}},
	}
	return s.runFlow("baseline", steps)
}

// exploratoryFlow is constructed by scanning the loaded page: the first
// visible primary-action candidate (if any) is screenshotted, clicked and
// screenshotted again; then up to maxNavLinks same-origin navigation links
// from the first matching container group are each visited and captured. A
// closing screenshot ends the flow regardless of what was found.
func (s *session) exploratoryFlow(base *url.URL) FlowResult {
	var steps []step

	if m, handle, ok := firstMatch(primaryActionCandidates, s.probeMatcher, nil); ok {
		target := handle
		steps = append(steps,
			step{kind: StepScreenshot, target: "before-action", run: func() (string, error) {
				return s.screenshot("before-action")
			}},
			step{kind: StepClick, target: m.name, run: func() (string, error) {
				return "", s.run(chromedp.Click(target, chromedp.ByQuery))
			}},
			step{kind: StepWait, target: "settle", run: func() (string, error) {
				return "", s.run(chromedp.Sleep(time.Second))
			}},
			step{kind: StepScreenshot, target: "after-action", run: func() (string, error) {
				return s.screenshot("after-action")
			}},
		)
	}

	var links []string
	for _, group := range navContainerGroups {
		links = selectNavLinks(base, s.collectHrefs(group))
		if len(links) > 0 {
			break
		}
	}
	for i, link := range links {
		link := link
		name := fmt.Sprintf("nav-%d", i+1)
		steps = append(steps,
			step{kind: StepNavigate, target: link, run: func() (string, error) {
				return "", s.run(chromedp.Navigate(link))
			}},
			step{kind: StepWait, target: "body", run: func() (string, error) {
				return "", s.run(chromedp.WaitVisible("body", chromedp.ByQuery))
			}},
			step{kind: StepScreenshot, target: name, run: func() (string, error) {
				return s.screenshot(name)
			}},
		)
	}

	steps = append(steps, step{kind: StepScreenshot, target: "closing", run: func() (string, error) {
		return s.screenshot("closing")
	}})

	return s.runFlow("exploratory", steps)
}

// suiteMarkers are the recognized project-native UI test assets.
var suiteMarkers = []string{
	"cypress",
	"cypress.config.js",
	"cypress.config.ts",
	"playwright.config.js",
	"playwright.config.ts",
	filepath.Join("tests", "e2e"),
	"e2e",
}

// detectProjectSuite is a capability probe: it reports whether the project
// ships a recognized UI test asset and returns a placeholder success marker
// flow. Executing the project's own tests is out of scope and not implied.
func detectProjectSuite(projectDir string) (FlowResult, bool) {
	if projectDir == "" {
		return FlowResult{}, false
	}
	for _, marker := range suiteMarkers {
		if _, err := os.Stat(filepath.Join(projectDir, marker)); err == nil {
			return FlowResult{
				Name:   "project-suite",
				Passed: true,
				Steps: []StepResult{{
					Kind:   StepDetect,
					Target: marker,
					Passed: true,
				}},
			}, true
		}
	}
	return FlowResult{}, false
}
