package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/runvet/runvet/internal/apitest"
	"github.com/runvet/runvet/internal/probe"
	"github.com/runvet/runvet/internal/procman"
	"github.com/runvet/runvet/internal/stage"
	"github.com/runvet/runvet/internal/staticcheck"
	"github.com/runvet/runvet/internal/uiflow"
)

// stubRunner wires a runner whose stages all succeed unless overridden. The
// launched process is a short sleep so termination always has a live child
// to release.
func stubRunner(t *testing.T) *Runner {
	t.Helper()
	return &Runner{
		launch: func(ctx context.Context, opts procman.Options) (*procman.Handle, error) {
			return procman.Launch(ctx, procman.Options{Command: "sleep", Args: []string{"30"}})
		},
		waitForPort: func(ctx context.Context, host string, port int, timeout time.Duration) bool {
			return true
		},
		waitForHealthy: func(ctx context.Context, baseURL string, timeout, interval time.Duration) probe.HealthCheckResult {
			return probe.HealthCheckResult{Reachable: true, Endpoint: baseURL + "/health", StatusCode: 200}
		},
		apiRun: func(ctx context.Context, opts apitest.Options) (stage.Result, []apitest.Result) {
			return stage.Result{Kind: stage.KindAPI, Status: stage.StatusPassed, Score: stage.ScoreOf(100)}, nil
		},
		staticRun: func(ctx context.Context, opts staticcheck.Options) stage.Result {
			return stage.Result{Kind: stage.KindStatic, Status: stage.StatusPassed, Score: stage.ScoreOf(80)}
		},
		uiRun: func(ctx context.Context, opts uiflow.Options) (stage.Result, []string) {
			return stage.Result{Kind: stage.KindUI, Status: stage.StatusPassed, Score: stage.ScoreOf(100)}, nil
		},
	}
}

func allEnabled(cfg RunConfig) RunConfig {
	cfg.APIEnabled = true
	cfg.StaticEnabled = true
	cfg.UIEnabled = true
	return cfg
}

func stageByKind(t *testing.T, rep *Report, kind stage.Kind) stage.Result {
	t.Helper()
	for _, s := range rep.Stages {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("stage %q not found in %+v", kind, rep.Stages)
	return stage.Result{}
}

func TestRun_NeedsConfigShortCircuits(t *testing.T) {
	r := stubRunner(t)
	rep := r.Run(context.Background(), allEnabled(RunConfig{
		NeedsConfig:     true,
		NeedsConfigHint: "no entry point found",
	}))

	if got := stageByKind(t, rep, stage.KindStartup).Status; got != stage.StatusNeedsConfig {
		t.Fatalf("startup: got %q", got)
	}
	for _, kind := range []stage.Kind{stage.KindHealth, stage.KindAPI, stage.KindStatic, stage.KindUI} {
		if got := stageByKind(t, rep, kind).Status; got != stage.StatusSkipped {
			t.Fatalf("%s: got %q, want skipped", kind, got)
		}
	}
	if rep.Metrics.Overall != 0 {
		t.Fatalf("overall score: got %d, want 0", rep.Metrics.Overall)
	}
	if rep.Verdict == stage.VerdictFailed {
		t.Fatalf("verdict: got failed, want not failed")
	}
}

func TestRun_LaunchFailureIsFatalToRemainder(t *testing.T) {
	r := stubRunner(t)
	r.launch = func(ctx context.Context, opts procman.Options) (*procman.Handle, error) {
		return procman.Launch(ctx, procman.Options{Command: "definitely-not-a-command-xyz"})
	}

	rep := r.Run(context.Background(), allEnabled(RunConfig{Command: "x", Port: 3000}))

	startup := stageByKind(t, rep, stage.KindStartup)
	if startup.Status != stage.StatusFailed {
		t.Fatalf("startup: got %q", startup.Status)
	}
	if len(startup.Errors) == 0 {
		t.Fatalf("startup: no spawn error recorded")
	}
	for _, kind := range []stage.Kind{stage.KindHealth, stage.KindAPI, stage.KindStatic, stage.KindUI} {
		if got := stageByKind(t, rep, kind).Status; got != stage.StatusSkipped {
			t.Fatalf("%s: got %q, want skipped", kind, got)
		}
	}
	if rep.Verdict != stage.VerdictFailed {
		t.Fatalf("verdict: got %q, want failed", rep.Verdict)
	}
	if rep.StderrTail == "" {
		t.Fatalf("stderr tail: empty, want spawn error text")
	}
}

func TestRun_StartupTimeoutBlocksDownstream(t *testing.T) {
	r := stubRunner(t)
	r.waitForPort = func(ctx context.Context, host string, port int, timeout time.Duration) bool {
		return false
	}

	rep := r.Run(context.Background(), allEnabled(RunConfig{Command: "x", Port: 3000}))

	if got := stageByKind(t, rep, stage.KindStartup).Status; got != stage.StatusFailed {
		t.Fatalf("startup: got %q", got)
	}
	if got := stageByKind(t, rep, stage.KindAPI).Status; got != stage.StatusSkipped {
		t.Fatalf("api: got %q, want skipped", got)
	}
}

func TestRun_HealthFailureBlocksAPIAndUI(t *testing.T) {
	r := stubRunner(t)
	r.waitForHealthy = func(ctx context.Context, baseURL string, timeout, interval time.Duration) probe.HealthCheckResult {
		return probe.HealthCheckResult{Err: "probe: all endpoints refused"}
	}

	rep := r.Run(context.Background(), allEnabled(RunConfig{Command: "x", Port: 3000}))

	if got := stageByKind(t, rep, stage.KindHealth).Status; got != stage.StatusFailed {
		t.Fatalf("health: got %q", got)
	}
	for _, kind := range []stage.Kind{stage.KindAPI, stage.KindStatic, stage.KindUI} {
		if got := stageByKind(t, rep, kind).Status; got != stage.StatusSkipped {
			t.Fatalf("%s: got %q, want skipped", kind, got)
		}
	}
	// startup passed, health failed: a mixed run is partial.
	if rep.Verdict != stage.VerdictPartial {
		t.Fatalf("verdict: got %q, want partial", rep.Verdict)
	}
}

func TestRun_AllStagesPassed(t *testing.T) {
	r := stubRunner(t)
	rep := r.Run(context.Background(), allEnabled(RunConfig{Command: "x", Port: 3000}))

	if rep.Verdict != stage.VerdictPassed {
		t.Fatalf("verdict: got %q", rep.Verdict)
	}
	// runtime = mean(100, 100, 100) = 100; static 80; ui 100 → overall 93.
	if rep.Metrics.Overall != 93 {
		t.Fatalf("overall: got %d, want 93", rep.Metrics.Overall)
	}
	if rep.RunID == "" {
		t.Fatalf("run id: empty")
	}
	if rep.FinishedAt.Before(rep.StartedAt) {
		t.Fatalf("timestamps: finished before started")
	}
}

func TestRun_DisabledStagesAreSkippedNotFailed(t *testing.T) {
	r := stubRunner(t)
	rep := r.Run(context.Background(), RunConfig{Command: "x", Port: 3000})

	for _, kind := range []stage.Kind{stage.KindAPI, stage.KindStatic, stage.KindUI} {
		if got := stageByKind(t, rep, kind).Status; got != stage.StatusSkipped {
			t.Fatalf("%s: got %q, want skipped", kind, got)
		}
	}
	if rep.Verdict != stage.VerdictPassed {
		t.Fatalf("verdict: got %q", rep.Verdict)
	}
}
