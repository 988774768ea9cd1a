package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runvet/runvet/internal/apitest"
	"github.com/runvet/runvet/internal/pipeline"
	"github.com/runvet/runvet/internal/stage"
)

func sampleReport() *pipeline.Report {
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	runtime := 66
	return &pipeline.Report{
		RunID:      "run-42",
		ProjectDir: "/tmp/demo",
		StartedAt:  started,
		FinishedAt: started.Add(45 * time.Second),
		Verdict:    stage.VerdictPartial,
		Metrics:    stage.Metrics{Overall: 66, Runtime: &runtime},
		Stages: []stage.Result{
			{Kind: stage.KindStartup, Status: stage.StatusPassed, Score: stage.ScoreOf(100),
				Duration: 1200 * time.Millisecond, Details: "process 123 listening on port 3000"},
			{Kind: stage.KindHealth, Status: stage.StatusFailed, Score: stage.ScoreOf(0),
				Duration: 15 * time.Second, Details: "no health endpoint answered",
				Errors: []string{"probe: all endpoints refused"}},
			{Kind: stage.KindUI, Status: stage.StatusSkipped, Details: "health check failed"},
		},
		APIResults: []apitest.Result{
			{Endpoint: "/api/health", Method: "GET", Status: 200, Passed: true},
			{Endpoint: "/api/items", Method: "GET", Status: 401, Passed: true, Note: "client error treated as reachable"},
		},
		Screenshots: []string{"shots/001-landing.png"},
		StderrTail:  "boom\n",
	}
}

func TestWriteJSON_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteJSON(dir, sampleReport())
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if filepath.Base(path) != "run-42.json" {
		t.Fatalf("path: got %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got pipeline.Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RunID != "run-42" || got.Verdict != stage.VerdictPartial || len(got.Stages) != 3 {
		t.Fatalf("report: got %+v", got)
	}
}

func TestMarkdown_Content(t *testing.T) {
	md := Markdown(sampleReport())

	for _, want := range []string{
		"# Evaluation run-42",
		"Verdict: **partial**",
		"| startup | passed | 100 |",
		"| health | failed | 0 |",
		"| ui | skipped | - |",
		"probe: all endpoints refused",
		"| GET | /api/items | 401 |",
		"shots/001-landing.png",
		"boom",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestWriteMarkdown_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	path, err := WriteMarkdown(dir, sampleReport())
	if err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Stat: %v", err)
	}
}

func TestRecords_Conversion(t *testing.T) {
	run, stages := Records(sampleReport())

	if run.ID != "run-42" || run.Verdict != "partial" || run.OverallScore != 66 {
		t.Fatalf("run: got %+v", run)
	}
	if run.RuntimeScore == nil || *run.RuntimeScore != 66 {
		t.Fatalf("runtime score: got %v", run.RuntimeScore)
	}
	if run.StaticScore != nil || run.UIScore != nil {
		t.Fatalf("absent categories must stay nil")
	}

	if len(stages) != 3 {
		t.Fatalf("stages: got %d", len(stages))
	}
	if stages[1].Kind != "health" || stages[1].Status != "failed" {
		t.Fatalf("stage 1: got %+v", stages[1])
	}
	if stages[1].DurationMs != 15000 {
		t.Fatalf("duration: got %d", stages[1].DurationMs)
	}
	if stages[2].Score != nil {
		t.Fatalf("skipped stage score: got %v, want nil", stages[2].Score)
	}
	if !stages[0].CreatedAt.Before(stages[2].CreatedAt) {
		t.Fatalf("created_at ordering not preserved")
	}
	if stages[0].ID == "" || stages[0].ID == stages[1].ID {
		t.Fatalf("stage ids must be unique and non-empty")
	}
}

func TestWriters_NilReport(t *testing.T) {
	if _, err := WriteJSON(t.TempDir(), nil); err == nil {
		t.Fatalf("WriteJSON: expected error")
	}
	if _, err := WriteMarkdown(t.TempDir(), nil); err == nil {
		t.Fatalf("WriteMarkdown: expected error")
	}
}
