package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runvet/runvet/internal/config"
	"github.com/runvet/runvet/internal/pipeline"
	"github.com/runvet/runvet/internal/stage"
	"github.com/runvet/runvet/internal/store"
)

type stubEvalRunner struct {
	rep    *pipeline.Report
	gotCfg pipeline.RunConfig
}

func (s *stubEvalRunner) Run(ctx context.Context, cfg pipeline.RunConfig) *pipeline.Report {
	s.gotCfg = cfg
	return s.rep
}

func swapRunner(t *testing.T, stub *stubEvalRunner) {
	t.Helper()
	old := newEvalRunner
	newEvalRunner = func() evalRunner { return stub }
	t.Cleanup(func() { newEvalRunner = old })
}

func cannedReport(verdict stage.Verdict) *pipeline.Report {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &pipeline.Report{
		RunID:      "run-test-1",
		ProjectDir: "/tmp/demo",
		StartedAt:  started,
		FinishedAt: started.Add(30 * time.Second),
		Verdict:    verdict,
		Metrics:    stage.Metrics{Overall: 93},
		Stages: []stage.Result{
			{Kind: stage.KindStartup, Status: stage.StatusPassed, Score: stage.ScoreOf(100),
				Duration: time.Second, Details: "process 1 listening on port 3000"},
		},
	}
}

// writeTestConfig points storage and reports at temp dirs and returns the
// config file path.
func writeTestConfig(t *testing.T) (cfgPath, outDir, dbPath string) {
	t.Helper()
	base := t.TempDir()
	outDir = filepath.Join(base, "out")
	dbPath = filepath.Join(base, "runvet.db")
	cfgPath = filepath.Join(base, "runvet.yaml")

	content := fmt.Sprintf("evaluation:\n  output_dir: %s\nstorage:\n  type: sqlite\n  path: %s\n", outDir, dbPath)
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return cfgPath, outDir, dbPath
}

func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"scripts":{"dev":"vite"}}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return dir
}

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRunCommand_PassedRun(t *testing.T) {
	stub := &stubEvalRunner{rep: cannedReport(stage.VerdictPassed)}
	swapRunner(t, stub)
	cfgPath, outDir, dbPath := writeTestConfig(t)
	dir := projectDir(t)

	out, err := execRoot(t, "run", dir, "--config", cfgPath)
	if err != nil {
		t.Fatalf("Execute: %v\n%s", err, out)
	}
	if !strings.Contains(out, "run-test-1") || !strings.Contains(out, "passed") {
		t.Fatalf("output: %s", out)
	}

	if stub.gotCfg.Command != "npm" || stub.gotCfg.Port != 3000 {
		t.Fatalf("detected config: %+v", stub.gotCfg)
	}
	if !stub.gotCfg.Headless {
		t.Fatalf("headless should default to true")
	}

	// Report files land in the configured output dir.
	if _, err := os.Stat(filepath.Join(outDir, "run-test-1.md")); err != nil {
		t.Fatalf("markdown report: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "run-test-1.json")); err != nil {
		t.Fatalf("json report: %v", err)
	}

	// The run is recorded in the history store.
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()
	run, err := st.GetRun(context.Background(), "run-test-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Verdict != "passed" || run.OverallScore != 93 {
		t.Fatalf("stored run: %+v", run)
	}
}

func TestRunCommand_FailedVerdictExitsNonzero(t *testing.T) {
	stub := &stubEvalRunner{rep: cannedReport(stage.VerdictFailed)}
	swapRunner(t, stub)
	cfgPath, _, _ := writeTestConfig(t)
	dir := projectDir(t)

	_, err := execRoot(t, "run", dir, "--config", cfgPath, "--no-save", "--no-report")
	if !errors.Is(err, errEvaluationFailed) {
		t.Fatalf("Execute: got %v, want errEvaluationFailed", err)
	}
}

func TestRunCommand_FlagOverrides(t *testing.T) {
	stub := &stubEvalRunner{rep: cannedReport(stage.VerdictPassed)}
	swapRunner(t, stub)
	cfgPath, _, _ := writeTestConfig(t)
	dir := projectDir(t)

	out, err := execRoot(t, "run", dir, "--config", cfgPath,
		"--command", "python3 app.py", "--port", "5000",
		"--skip-ui", "--strict", "--headed", "--no-save", "--no-report")
	if err != nil {
		t.Fatalf("Execute: %v\n%s", err, out)
	}

	got := stub.gotCfg
	if got.Command != "python3" || len(got.Args) != 1 || got.Args[0] != "app.py" {
		t.Fatalf("command: got %s %v", got.Command, got.Args)
	}
	if got.Port != 5000 {
		t.Fatalf("port: got %d", got.Port)
	}
	if got.UIEnabled || !got.APIEnabled {
		t.Fatalf("stage toggles: %+v", got)
	}
	if !got.StrictClientErrors || got.Headless {
		t.Fatalf("strict/headed: %+v", got)
	}
}

func TestRunCommand_MissingDir(t *testing.T) {
	stub := &stubEvalRunner{rep: cannedReport(stage.VerdictPassed)}
	swapRunner(t, stub)
	cfgPath, _, _ := writeTestConfig(t)

	_, err := execRoot(t, "run", filepath.Join(t.TempDir(), "nope"), "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Execute: got %v", err)
	}
}

func TestBuildRunConfig_NoPort(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module demo\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.Default()
	rc, err := buildRunConfig(cfg, &runOptions{command: "custom-server"}, dir)
	if err == nil {
		t.Fatalf("buildRunConfig: expected no-port error, got %+v", rc)
	}
	if !strings.Contains(err.Error(), "--port") {
		t.Fatalf("error: got %q", err)
	}
}

func TestBuildRunConfig_NeedsConfigPassesThrough(t *testing.T) {
	cfg := config.Default()
	rc, err := buildRunConfig(cfg, &runOptions{}, t.TempDir())
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if !rc.NeedsConfig || rc.NeedsConfigHint == "" {
		t.Fatalf("needs-config: %+v", rc)
	}
}

func TestBuildRunConfig_ConfigFileCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Evaluation.Command = "npm"
	cfg.Evaluation.Args = []string{"run", "preview"}
	cfg.Evaluation.Port = 4173
	cfg.Evaluation.Env = map[string]string{"NODE_ENV": "production"}

	rc, err := buildRunConfig(cfg, &runOptions{}, t.TempDir())
	if err != nil {
		t.Fatalf("buildRunConfig: %v", err)
	}
	if rc.Command != "npm" || len(rc.Args) != 2 || rc.Args[1] != "preview" {
		t.Fatalf("command: got %s %v", rc.Command, rc.Args)
	}
	if rc.Port != 4173 {
		t.Fatalf("port: got %d", rc.Port)
	}
	if rc.NeedsConfig {
		t.Fatalf("explicit command must clear needs-config")
	}
	if rc.Env["NODE_ENV"] != "production" {
		t.Fatalf("env: got %v", rc.Env)
	}
}
