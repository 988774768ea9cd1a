// Package pipeline sequences the staged runtime evaluation: launch the
// target, wait for readiness, probe the API surface, inspect the served
// document, drive the UI flows, and aggregate everything into one report.
// Stage failures become stage data; no stage error escapes the pipeline.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runvet/runvet/internal/apitest"
	"github.com/runvet/runvet/internal/probe"
	"github.com/runvet/runvet/internal/procman"
	"github.com/runvet/runvet/internal/stage"
	"github.com/runvet/runvet/internal/staticcheck"
	"github.com/runvet/runvet/internal/uiflow"
)

// outputTail is how much captured process output is carried in the report.
const outputTail = 4096

// Timeouts are the per-phase budgets of one run.
type Timeouts struct {
	Startup time.Duration
	Health  time.Duration
	API     time.Duration
	UI      time.Duration
}

// RunConfig describes one evaluation run. Immutable once constructed.
type RunConfig struct {
	Dir     string
	Command string
	Args    []string
	Env     map[string]string
	Port    int

	Timeouts Timeouts

	// NeedsConfig short-circuits the run: project detection could not
	// determine how to start the target.
	NeedsConfig     bool
	NeedsConfigHint string

	APIEnabled    bool
	StaticEnabled bool
	UIEnabled     bool

	StrictClientErrors bool
	Headless           bool
	ChromePath         string
	ScreenshotDir      string
}

// Report is the final ordered outcome of one run. Fields are stable and
// complete enough for serialization with no further enrichment.
type Report struct {
	RunID       string          `json:"run_id"`
	ProjectDir  string          `json:"project_dir"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Stages      []stage.Result  `json:"stages"`
	Verdict     stage.Verdict   `json:"verdict"`
	Metrics     stage.Metrics   `json:"metrics"`
	APIResults  []apitest.Result `json:"api_results,omitempty"`
	Screenshots []string        `json:"screenshots,omitempty"`
	StdoutTail  string          `json:"stdout_tail,omitempty"`
	StderrTail  string          `json:"stderr_tail,omitempty"`
}

// Runner executes evaluation runs. The function fields exist as test seams;
// NewRunner wires the real implementations.
type Runner struct {
	launch         func(ctx context.Context, opts procman.Options) (*procman.Handle, error)
	waitForPort    func(ctx context.Context, host string, port int, timeout time.Duration) bool
	waitForHealthy func(ctx context.Context, baseURL string, timeout, interval time.Duration) probe.HealthCheckResult
	apiRun         func(ctx context.Context, opts apitest.Options) (stage.Result, []apitest.Result)
	staticRun      func(ctx context.Context, opts staticcheck.Options) stage.Result
	uiRun          func(ctx context.Context, opts uiflow.Options) (stage.Result, []string)
}

// NewRunner returns a Runner backed by the real stage implementations.
func NewRunner() *Runner {
	p := probe.New()
	return &Runner{
		launch:         procman.Launch,
		waitForPort:    p.WaitForPort,
		waitForHealthy: p.WaitForHealthy,
		apiRun:         apitest.Run,
		staticRun:      staticcheck.Run,
		uiRun:          uiflow.Run,
	}
}

// Run executes the staged evaluation and always returns a usable report.
// The owned process is terminated on every exit path.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) *Report {
	rep := &Report{
		RunID:      uuid.NewString(),
		ProjectDir: cfg.Dir,
		StartedAt:  time.Now(),
	}
	defer func() {
		rep.FinishedAt = time.Now()
		rep.Verdict, rep.Metrics = stage.Aggregate(rep.Stages)
	}()

	if r == nil || ctx == nil {
		rep.Stages = append(rep.Stages, stage.Result{
			Kind:   stage.KindStartup,
			Status: stage.StatusFailed,
			Errors: []string{"pipeline: nil runner or context"},
		})
		return rep
	}

	if cfg.NeedsConfig {
		hint := cfg.NeedsConfigHint
		if hint == "" {
			hint = "pipeline: cannot determine how to start this project"
		}
		rep.Stages = append(rep.Stages,
			stage.Result{Kind: stage.KindStartup, Status: stage.StatusNeedsConfig, Details: hint},
			stage.Skipped(stage.KindHealth, "startup needs configuration"),
			stage.Skipped(stage.KindAPI, "startup needs configuration"),
			stage.Skipped(stage.KindStatic, "startup needs configuration"),
			stage.Skipped(stage.KindUI, "startup needs configuration"),
		)
		return rep
	}

	timeouts := cfg.Timeouts.withDefaults()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)

	// Lifetime cap on the owned process: the sum of all phase budgets plus
	// termination slack. The deferred Terminate below is the unconditional
	// release on every exit path.
	lifetime := timeouts.Startup + timeouts.Health + timeouts.API + timeouts.UI + 30*time.Second

	startupStart := time.Now()
	handle, err := r.launch(ctx, procman.Options{
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.Dir,
		Env:     cfg.Env,
		Timeout: lifetime,
	})
	defer func() {
		handle.Terminate()
		rep.StdoutTail = tail(handle.Stdout(), outputTail)
		rep.StderrTail = tail(handle.Stderr(), outputTail)
	}()
	if err != nil {
		rep.Stages = append(rep.Stages,
			stage.Result{
				Kind:     stage.KindStartup,
				Status:   stage.StatusFailed,
				Duration: time.Since(startupStart),
				Score:    stage.ScoreOf(0),
				Details:  "process could not be spawned",
				Errors:   []string{err.Error()},
			})
		rep.Stages = append(rep.Stages, skippedDownstream("launch failed", true, true, true)...)
		return rep
	}

	if ok := r.waitForPort(ctx, "127.0.0.1", cfg.Port, timeouts.Startup); !ok {
		rep.Stages = append(rep.Stages,
			stage.Result{
				Kind:     stage.KindStartup,
				Status:   stage.StatusFailed,
				Duration: time.Since(startupStart),
				Score:    stage.ScoreOf(0),
				Details:  fmt.Sprintf("port %d not reachable within %s", cfg.Port, timeouts.Startup),
				Errors:   []string{fmt.Sprintf("pipeline: port %d never became reachable", cfg.Port)},
			})
		rep.Stages = append(rep.Stages, skippedDownstream("startup failed", true, true, true)...)
		return rep
	}
	rep.Stages = append(rep.Stages, stage.Result{
		Kind:     stage.KindStartup,
		Status:   stage.StatusPassed,
		Duration: time.Since(startupStart),
		Score:    stage.ScoreOf(100),
		Details:  fmt.Sprintf("process %d listening on port %d", handle.PID(), cfg.Port),
	})

	healthStart := time.Now()
	health := r.waitForHealthy(ctx, baseURL, timeouts.Health, probe.PollInterval)
	if !health.Reachable {
		hs := stage.Result{
			Kind:     stage.KindHealth,
			Status:   stage.StatusFailed,
			Duration: time.Since(healthStart),
			Score:    stage.ScoreOf(0),
			Details:  "no health endpoint answered",
		}
		if health.Err != "" {
			hs.Errors = append(hs.Errors, health.Err)
		}
		rep.Stages = append(rep.Stages, hs)
		rep.Stages = append(rep.Stages, skippedDownstream("health check failed", false, true, true)...)
		return rep
	}
	rep.Stages = append(rep.Stages, stage.Result{
		Kind:     stage.KindHealth,
		Status:   stage.StatusPassed,
		Duration: time.Since(healthStart),
		Score:    stage.ScoreOf(100),
		Details:  fmt.Sprintf("%s answered %d", health.Endpoint, health.StatusCode),
	})

	if cfg.APIEnabled {
		apiStage, apiResults := r.apiRun(ctx, apitest.Options{
			BaseURL:            baseURL,
			ProjectDir:         cfg.Dir,
			Timeout:            timeouts.API,
			StrictClientErrors: cfg.StrictClientErrors,
		})
		rep.Stages = append(rep.Stages, apiStage)
		rep.APIResults = apiResults
	} else {
		rep.Stages = append(rep.Stages, stage.Skipped(stage.KindAPI, "api testing disabled"))
	}

	if cfg.StaticEnabled {
		rep.Stages = append(rep.Stages, r.staticRun(ctx, staticcheck.Options{
			BaseURL: baseURL,
			Timeout: timeouts.API,
		}))
	} else {
		rep.Stages = append(rep.Stages, stage.Skipped(stage.KindStatic, "static checks disabled"))
	}

	if cfg.UIEnabled {
		uiStage, shots := r.uiRun(ctx, uiflow.Options{
			BaseURL:       baseURL,
			ProjectDir:    cfg.Dir,
			ScreenshotDir: cfg.ScreenshotDir,
			Timeout:       timeouts.UI,
			Headless:      cfg.Headless,
			ChromePath:    cfg.ChromePath,
		})
		rep.Stages = append(rep.Stages, uiStage)
		rep.Screenshots = shots
	} else {
		rep.Stages = append(rep.Stages, stage.Skipped(stage.KindUI, "ui evaluation disabled"))
	}

	return rep
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Startup <= 0 {
		t.Startup = 30 * time.Second
	}
	if t.Health <= 0 {
		t.Health = 15 * time.Second
	}
	if t.API <= 0 {
		t.API = 10 * time.Second
	}
	if t.UI <= 0 {
		t.UI = 60 * time.Second
	}
	return t
}

func skippedDownstream(reason string, health, api, ui bool) []stage.Result {
	var out []stage.Result
	if health {
		out = append(out, stage.Skipped(stage.KindHealth, reason))
	}
	if api {
		out = append(out, stage.Skipped(stage.KindAPI, reason))
	}
	out = append(out, stage.Skipped(stage.KindStatic, reason))
	if ui {
		out = append(out, stage.Skipped(stage.KindUI, reason))
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
