package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runvet/runvet/internal/config"
	"github.com/runvet/runvet/internal/detect"
	"github.com/runvet/runvet/internal/pipeline"
	"github.com/runvet/runvet/internal/report"
	"github.com/runvet/runvet/internal/stage"
	"github.com/runvet/runvet/internal/store"
)

var errEvaluationFailed = errors.New("runvet: evaluation failed")

// evalRunner is the slice of pipeline.Runner the command needs; tests swap
// in a stub via newEvalRunner.
type evalRunner interface {
	Run(ctx context.Context, cfg pipeline.RunConfig) *pipeline.Report
}

var (
	newEvalRunner = func() evalRunner { return pipeline.NewRunner() }
	openStore     = store.Open
)

type runOptions struct {
	command string
	port    int
	output  string

	skipAPI    bool
	skipStatic bool
	skipUI     bool
	strict     bool
	headed     bool
	noSave     bool
	noReport   bool
}

func newRunCmd(st *cliState) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Evaluate a project: launch it, probe it, drive its UI",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runEvaluation(cmd, st, &opts, dir)
		},
	}

	cmd.Flags().StringVar(&opts.command, "command", "", "start command, overrides detection (e.g. \"npm run dev\")")
	cmd.Flags().IntVar(&opts.port, "port", 0, "port the project listens on, overrides detection")
	cmd.Flags().StringVar(&opts.output, "output", "", "output format: table|json|markdown")
	cmd.Flags().BoolVar(&opts.skipAPI, "skip-api", false, "skip API surface testing")
	cmd.Flags().BoolVar(&opts.skipStatic, "skip-static", false, "skip served-page checks")
	cmd.Flags().BoolVar(&opts.skipUI, "skip-ui", false, "skip browser UI flows")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "treat 4xx API responses as failures")
	cmd.Flags().BoolVar(&opts.headed, "headed", false, "run the browser with a visible window")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not record the run in the history store")
	cmd.Flags().BoolVar(&opts.noReport, "no-report", false, "do not write report files")

	return cmd
}

func runEvaluation(cmd *cobra.Command, st *cliState, opts *runOptions, dir string) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("run: missing config (internal error)")
	}
	if opts == nil {
		return fmt.Errorf("run: nil options")
	}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("run: resolve project dir: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fmt.Errorf("run: project directory %q not found", dir)
	}

	output, err := resolveOutputFormat(opts.output)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	rc, err := buildRunConfig(st.cfg, opts, abs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep := newEvalRunner().Run(ctx, rc)

	_, _ = fmt.Fprint(cmd.OutOrStdout(), FormatReport(rep, output))

	if !opts.noReport {
		outDir := st.cfg.Evaluation.OutputDir
		if _, err := report.WriteJSON(outDir, rep); err != nil {
			return err
		}
		mdPath, err := report.WriteMarkdown(outDir, rep)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", mdPath)
	}

	if !opts.noSave {
		if err := saveRun(cmd.Context(), st.cfg, rep); err != nil {
			return err
		}
	}

	if rep.Verdict == stage.VerdictFailed {
		return errEvaluationFailed
	}
	return nil
}

// buildRunConfig merges detection, config file, and flags; flags win.
func buildRunConfig(cfg *config.Config, opts *runOptions, dir string) (pipeline.RunConfig, error) {
	spec := detect.Project(dir)

	rc := pipeline.RunConfig{
		Dir:     dir,
		Command: spec.Command,
		Args:    spec.Args,
		Env:     spec.Env,
		Port:    spec.Port,

		NeedsConfig:     spec.NeedsConfig,
		NeedsConfigHint: spec.Hint,

		APIEnabled:    !opts.skipAPI && !cfg.Evaluation.SkipAPI,
		StaticEnabled: !opts.skipStatic && !cfg.Evaluation.SkipStatic,
		UIEnabled:     !opts.skipUI && !cfg.Evaluation.SkipUI,

		StrictClientErrors: opts.strict || cfg.Evaluation.StrictClientErrors,
		Headless:           !opts.headed && !cfg.Browser.Headed,
		ChromePath:         cfg.Browser.ChromePath,
		ScreenshotDir: filepath.Join(cfg.Evaluation.OutputDir, "screenshots",
			time.Now().UTC().Format("20060102T150405Z")),

		Timeouts: pipeline.Timeouts{
			Startup: cfg.Evaluation.StartupTimeout,
			Health:  cfg.Evaluation.HealthTimeout,
			API:     cfg.Evaluation.APITimeout,
			UI:      cfg.Evaluation.UITimeout,
		},
	}
	if len(cfg.Evaluation.Env) > 0 {
		if rc.Env == nil {
			rc.Env = make(map[string]string, len(cfg.Evaluation.Env))
		}
		for k, v := range cfg.Evaluation.Env {
			rc.Env[k] = v
		}
	}

	command := strings.TrimSpace(opts.command)
	var args []string
	if command == "" && strings.TrimSpace(cfg.Evaluation.Command) != "" {
		command = strings.TrimSpace(cfg.Evaluation.Command)
		args = append([]string(nil), cfg.Evaluation.Args...)
	}
	if command != "" {
		if len(args) == 0 {
			fields := strings.Fields(command)
			command, args = fields[0], fields[1:]
		}
		rc.Command = command
		rc.Args = args
		rc.NeedsConfig = false
		rc.NeedsConfigHint = ""
	}

	if opts.port > 0 {
		rc.Port = opts.port
	} else if cfg.Evaluation.Port > 0 {
		rc.Port = cfg.Evaluation.Port
	}

	if !rc.NeedsConfig && rc.Port <= 0 {
		return rc, fmt.Errorf("run: no port detected for %q; pass --port", dir)
	}
	return rc, nil
}

func saveRun(ctx context.Context, cfg *config.Config, rep *pipeline.Report) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stor, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("run: open store: %w", err)
	}
	defer stor.Close()

	run, stages := report.Records(rep)
	if err := stor.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("run: save run: %w", err)
	}
	for _, sr := range stages {
		if err := stor.SaveStageResult(ctx, sr); err != nil {
			return fmt.Errorf("run: save stage result: %w", err)
		}
	}
	return nil
}
