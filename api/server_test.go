package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runvet/runvet/internal/config"
	"github.com/runvet/runvet/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	t.Setenv("RUNVET_API_KEY", "")
	t.Setenv("RUNVET_DISABLE_AUTH", "true")

	cfg := config.Default()
	cfg.Storage.Type = "memory"
	cfg.Evaluation.OutputDir = t.TempDir()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s, err := NewServer(cfg, st)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, st
}

func seedRun(t *testing.T, st store.Store, id, verdict string) {
	t.Helper()
	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	run := &store.RunRecord{
		ID:           id,
		ProjectDir:   "/tmp/demo",
		StartedAt:    started,
		FinishedAt:   started.Add(time.Minute),
		Verdict:      verdict,
		OverallScore: 77,
	}
	if err := st.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	score := 100
	stage := &store.StageRecord{
		ID: id + "-startup", RunID: id, Kind: "startup", Status: "passed",
		Score: &score, DurationMs: 1200, CreatedAt: started,
	}
	if err := st.SaveStageResult(context.Background(), stage); err != nil {
		t.Fatalf("SaveStageResult: %v", err)
	}
}

func doRequest(s *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresAuthConfig(t *testing.T) {
	t.Setenv("RUNVET_API_KEY", "")
	t.Setenv("RUNVET_DISABLE_AUTH", "")

	if _, err := NewServer(config.Default(), nil); err == nil {
		t.Fatalf("NewServer: expected error without auth configuration")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Setenv("RUNVET_API_KEY", "secret")
	t.Setenv("RUNVET_DISABLE_AUTH", "")

	s, err := NewServer(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	if w := doRequest(s, http.MethodGet, "/api/health", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: got %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/health", map[string]string{"X-API-Key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: got %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/health", map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("right key: got %d", w.Code)
	}
}

func TestCORS_AllowListAndPreflight(t *testing.T) {
	t.Setenv("RUNVET_API_KEY", "")
	t.Setenv("RUNVET_DISABLE_AUTH", "true")
	t.Setenv("RUNVET_CORS_ORIGINS", "http://localhost:5173")

	s, err := NewServer(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	w := doRequest(s, http.MethodOptions, "/api/runs", map[string]string{"Origin": "http://localhost:5173"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow-origin: got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Fatalf("allow-methods: got %q", got)
	}

	w = doRequest(s, http.MethodOptions, "/api/runs", map[string]string{"Origin": "http://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin acknowledged: %q", got)
	}
}

func TestCORS_DisabledWhenUnset(t *testing.T) {
	t.Setenv("RUNVET_CORS_ORIGINS", "")

	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/health", map[string]string{"Origin": "http://localhost:5173"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected CORS header: %q", got)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestHandleListRuns(t *testing.T) {
	s, st := newTestServer(t)
	seedRun(t, st, "run-1", "passed")
	seedRun(t, st, "run-2", "failed")

	w := doRequest(s, http.MethodGet, "/api/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var runs []runResponse
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs: got %d", len(runs))
	}

	w = doRequest(s, http.MethodGet, "/api/runs?verdict=failed", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("Unmarshal filtered: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("filtered: got %+v", runs)
	}

	if w := doRequest(s, http.MethodGet, "/api/runs?limit=zero", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: got %d", w.Code)
	}
}

func TestHandleGetRun(t *testing.T) {
	s, st := newTestServer(t)
	seedRun(t, st, "run-1", "passed")

	w := doRequest(s, http.MethodGet, "/api/runs/run-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var run runResponse
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if run.ID != "run-1" || run.Verdict != "passed" || run.OverallScore != 77 {
		t.Fatalf("run: got %+v", run)
	}

	if w := doRequest(s, http.MethodGet, "/api/runs/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing run: got %d", w.Code)
	}
}

func TestHandleGetRunStages(t *testing.T) {
	s, st := newTestServer(t)
	seedRun(t, st, "run-1", "passed")

	w := doRequest(s, http.MethodGet, "/api/runs/run-1/stages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var stages []stageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stages); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(stages) != 1 || stages[0].Kind != "startup" || stages[0].Status != "passed" {
		t.Fatalf("stages: got %+v", stages)
	}

	if w := doRequest(s, http.MethodGet, "/api/runs/nope/stages", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing run: got %d", w.Code)
	}
}

func TestArtifacts_ServeAndConfine(t *testing.T) {
	s, _ := newTestServer(t)

	shot := filepath.Join(s.outputDir, "001-landing.png")
	if err := os.WriteFile(shot, []byte("png"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if w := doRequest(s, http.MethodGet, "/artifacts/001-landing.png", nil); w.Code != http.StatusOK {
		t.Fatalf("artifact: got %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/artifacts/missing.png", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing artifact: got %d", w.Code)
	}
	w := doRequest(s, http.MethodGet, "/artifacts/../../etc/passwd", nil)
	if w.Code == http.StatusOK {
		t.Fatalf("traversal: got %d, want rejection", w.Code)
	}
}

func TestRun_NilServer(t *testing.T) {
	var s *Server
	if err := s.Run(":0"); err == nil {
		t.Fatalf("Run: expected error on nil server")
	}
}
