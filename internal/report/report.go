// Package report renders a finished evaluation into durable artifacts: a
// machine-readable JSON file, a human-readable Markdown summary, and the
// records the history store persists.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runvet/runvet/internal/pipeline"
	"github.com/runvet/runvet/internal/store"
)

// WriteJSON writes the full report as indented JSON under dir and returns
// the file path.
func WriteJSON(dir string, rep *pipeline.Report) (string, error) {
	if rep == nil {
		return "", errors.New("report: nil report")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}

	path := filepath.Join(dir, rep.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write json: %w", err)
	}
	return path, nil
}

// WriteMarkdown writes a human-readable summary under dir and returns the
// file path.
func WriteMarkdown(dir string, rep *pipeline.Report) (string, error) {
	if rep == nil {
		return "", errors.New("report: nil report")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}

	path := filepath.Join(dir, rep.RunID+".md")
	if err := os.WriteFile(path, []byte(Markdown(rep)), 0o644); err != nil {
		return "", fmt.Errorf("report: write markdown: %w", err)
	}
	return path, nil
}

// Markdown renders the report as a Markdown document.
func Markdown(rep *pipeline.Report) string {
	if rep == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Evaluation %s\n\n", rep.RunID)
	fmt.Fprintf(&sb, "- Project: `%s`\n", rep.ProjectDir)
	fmt.Fprintf(&sb, "- Verdict: **%s**\n", rep.Verdict)
	fmt.Fprintf(&sb, "- Overall score: %d\n", rep.Metrics.Overall)
	fmt.Fprintf(&sb, "- Duration: %s\n\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))

	sb.WriteString("## Stages\n\n")
	sb.WriteString("| Stage | Status | Score | Duration | Details |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, st := range rep.Stages {
		scoreCell := "-"
		if st.Score != nil {
			scoreCell = fmt.Sprintf("%d", *st.Score)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			st.Kind, st.Status, scoreCell, st.Duration.Round(time.Millisecond), mdEscape(st.Details))
	}
	sb.WriteString("\n")

	var stageErrs []string
	for _, st := range rep.Stages {
		for _, e := range st.Errors {
			stageErrs = append(stageErrs, fmt.Sprintf("%s: %s", st.Kind, e))
		}
	}
	if len(stageErrs) > 0 {
		sb.WriteString("## Errors\n\n")
		for _, e := range stageErrs {
			fmt.Fprintf(&sb, "- %s\n", mdEscape(e))
		}
		sb.WriteString("\n")
	}

	if len(rep.APIResults) > 0 {
		sb.WriteString("## API endpoints\n\n")
		sb.WriteString("| Method | Path | Status | Outcome |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, ar := range rep.APIResults {
			outcome := "failed"
			if ar.Passed {
				outcome = "passed"
			}
			if ar.Note != "" {
				outcome += " (" + ar.Note + ")"
			}
			fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n", ar.Method, ar.Endpoint, ar.Status, mdEscape(outcome))
		}
		sb.WriteString("\n")
	}

	if len(rep.Screenshots) > 0 {
		sb.WriteString("## Screenshots\n\n")
		for _, shot := range rep.Screenshots {
			fmt.Fprintf(&sb, "- `%s`\n", shot)
		}
		sb.WriteString("\n")
	}

	if rep.StderrTail != "" {
		sb.WriteString("## Process stderr (tail)\n\n```\n")
		sb.WriteString(strings.TrimRight(rep.StderrTail, "\n"))
		sb.WriteString("\n```\n")
	}

	return sb.String()
}

// Records converts a report into the rows the history store persists.
func Records(rep *pipeline.Report) (*store.RunRecord, []*store.StageRecord) {
	if rep == nil {
		return nil, nil
	}

	run := &store.RunRecord{
		ID:           rep.RunID,
		ProjectDir:   rep.ProjectDir,
		StartedAt:    rep.StartedAt,
		FinishedAt:   rep.FinishedAt,
		Verdict:      string(rep.Verdict),
		OverallScore: rep.Metrics.Overall,
		RuntimeScore: copyScore(rep.Metrics.Runtime),
		StaticScore:  copyScore(rep.Metrics.Static),
		UIScore:      copyScore(rep.Metrics.UI),
	}

	stages := make([]*store.StageRecord, 0, len(rep.Stages))
	for i, st := range rep.Stages {
		stages = append(stages, &store.StageRecord{
			ID:         uuid.NewString(),
			RunID:      rep.RunID,
			Kind:       string(st.Kind),
			Status:     string(st.Status),
			Score:      copyScore(st.Score),
			DurationMs: st.Duration.Milliseconds(),
			Details:    st.Details,
			Errors:     st.Errors,
			// Stage order is the report order; spread the timestamps so
			// the store's created_at ordering matches.
			CreatedAt: rep.StartedAt.Add(time.Duration(i) * time.Millisecond),
		})
	}
	return run, stages
}

func copyScore(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
