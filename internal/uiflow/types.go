// Package uiflow drives a real browser through a fixed baseline flow and a
// heuristically-constructed exploratory flow, with fail-fast-per-flow
// semantics and session-wide error capture.
package uiflow

import "time"

// Step action kinds.
const (
	StepNavigate   = "navigate"
	StepWait       = "wait"
	StepScreenshot = "screenshot"
	StepAssert     = "assert"
	StepClick      = "click"
	StepDetect     = "detect"
)

// StepResult records one executed automation step.
type StepResult struct {
	Kind       string        `json:"kind"`
	Target     string        `json:"target,omitempty"`
	Passed     bool          `json:"passed"`
	Screenshot string        `json:"screenshot,omitempty"`
	Err        string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// FlowResult is an ordered sequence of steps treated as one fail-fast unit.
// Passed is true iff every step passed; execution stops at the first failure
// within the flow. Console and network error snapshots are session-wide and
// attached to every flow produced during that session.
type FlowResult struct {
	Name          string        `json:"name"`
	Steps         []StepResult  `json:"steps"`
	Passed        bool          `json:"passed"`
	ConsoleErrors []string      `json:"console_errors,omitempty"`
	NetworkErrors []string      `json:"network_errors,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Options configures one browser evaluation session.
type Options struct {
	BaseURL       string
	ProjectDir    string
	ScreenshotDir string
	Timeout       time.Duration // whole-session budget
	Headless      bool
	ChromePath    string
}
