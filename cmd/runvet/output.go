package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/runvet/runvet/internal/pipeline"
	"github.com/runvet/runvet/internal/report"
	"github.com/runvet/runvet/internal/stage"
)

type OutputFormat string

const (
	FormatTable    OutputFormat = "table"
	FormatJSON     OutputFormat = "json"
	FormatMarkdown OutputFormat = "markdown"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

func parseOutputFormat(s string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table":
		return FormatTable
	case "json":
		return FormatJSON
	case "markdown", "md":
		return FormatMarkdown
	default:
		return ""
	}
}

func resolveOutputFormat(flagValue string) (OutputFormat, error) {
	if strings.TrimSpace(flagValue) == "" {
		return FormatTable, nil
	}
	out := parseOutputFormat(flagValue)
	if out == "" {
		return "", fmt.Errorf("invalid --output %q (expected table|json|markdown)", flagValue)
	}
	return out, nil
}

func coloredVerdict(v stage.Verdict) string {
	switch v {
	case stage.VerdictPassed:
		return colorGreen + string(v) + colorReset
	case stage.VerdictFailed:
		return colorRed + string(v) + colorReset
	default:
		return colorYellow + string(v) + colorReset
	}
}

func FormatReport(rep *pipeline.Report, format OutputFormat) string {
	switch format {
	case FormatTable:
		return formatReportTable(rep)
	case FormatJSON:
		return formatReportJSON(rep)
	case FormatMarkdown:
		return report.Markdown(rep)
	default:
		return fmt.Sprintf("error: unknown output format %q\n", format)
	}
}

func formatReportTable(rep *pipeline.Report) string {
	if rep == nil {
		return "Run: <nil>\n"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Run: %s\n", rep.RunID)
	fmt.Fprintf(&buf, "Project: %s\n", rep.ProjectDir)
	fmt.Fprintf(&buf, "Verdict: %s (score %d)\n\n", coloredVerdict(rep.Verdict), rep.Metrics.Overall)

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tSCORE\tDURATION\tDETAILS")
	for _, st := range rep.Stages {
		scoreCell := "-"
		if st.Score != nil {
			scoreCell = fmt.Sprintf("%d", *st.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			st.Kind, st.Status, scoreCell, st.Duration.Round(10*time.Millisecond), st.Details)
	}
	_ = tw.Flush()

	var errLines []string
	for _, st := range rep.Stages {
		for _, e := range st.Errors {
			errLines = append(errLines, fmt.Sprintf("  %s: %s", st.Kind, e))
		}
	}
	if len(errLines) > 0 {
		buf.WriteString("\nErrors:\n")
		buf.WriteString(strings.Join(errLines, "\n"))
		buf.WriteByte('\n')
	}

	if len(rep.Screenshots) > 0 {
		buf.WriteString("\nScreenshots:\n")
		for _, shot := range rep.Screenshots {
			fmt.Fprintf(&buf, "  %s\n", shot)
		}
	}

	buf.WriteByte('\n')
	return buf.String()
}

func formatReportJSON(rep *pipeline.Report) string {
	if rep == nil {
		return "{\"error\":\"nil report\"}\n"
	}
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Sprintf("{\"error\":%q}\n", err.Error())
	}
	return string(b) + "\n"
}
