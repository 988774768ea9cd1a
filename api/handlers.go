package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runvet/runvet/internal/store"
)

type runResponse struct {
	ID           string `json:"id"`
	ProjectDir   string `json:"project_dir"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at"`
	Verdict      string `json:"verdict"`
	OverallScore int    `json:"overall_score"`
	RuntimeScore *int   `json:"runtime_score,omitempty"`
	StaticScore  *int   `json:"static_score,omitempty"`
	UIScore      *int   `json:"ui_score,omitempty"`
}

type stageResponse struct {
	Kind       string   `json:"kind"`
	Status     string   `json:"status"`
	Score      *int     `json:"score,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Details    string   `json:"details,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("history store not configured"))
		return
	}

	filter := store.RunFilter{
		ProjectDir: strings.TrimSpace(c.Query("project")),
		Verdict:    strings.TrimSpace(c.Query("verdict")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondError(c, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	runs, err := s.store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("history store not configured"))
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, errors.New("run not found"))
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}

func (s *Server) handleGetRunStages(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, errors.New("history store not configured"))
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing run id"))
		return
	}

	if _, err := s.store.GetRun(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, errors.New("run not found"))
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	stages, err := s.store.GetStageResults(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]stageResponse, 0, len(stages))
	for _, sr := range stages {
		out = append(out, stageResponse{
			Kind:       sr.Kind,
			Status:     sr.Status,
			Score:      sr.Score,
			DurationMs: sr.DurationMs,
			Details:    sr.Details,
			Errors:     sr.Errors,
		})
	}
	c.JSON(http.StatusOK, out)
}

func toRunResponse(r *store.RunRecord) runResponse {
	return runResponse{
		ID:           r.ID,
		ProjectDir:   r.ProjectDir,
		StartedAt:    r.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:   r.FinishedAt.UTC().Format(time.RFC3339),
		Verdict:      r.Verdict,
		OverallScore: r.OverallScore,
		RuntimeScore: r.RuntimeScore,
		StaticScore:  r.StaticScore,
		UIScore:      r.UIScore,
	}
}

func respondError(c *gin.Context, status int, err error) {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
