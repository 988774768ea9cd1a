package store

import (
	"context"
	"time"
)

// RunWriter defines persistence for evaluation runs and their stage results.
type RunWriter interface {
	SaveRun(ctx context.Context, run *RunRecord) error
	SaveStageResult(ctx context.Context, result *StageRecord) error
}

// RunReader defines read access to run and stage data.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	GetStageResults(ctx context.Context, runID string) ([]*StageRecord, error)
}

// Store defines persistence for evaluation history.
type Store interface {
	RunWriter
	RunReader
	Close() error
}

// RunRecord stores a single evaluation run summary.
type RunRecord struct {
	ID           string
	ProjectDir   string
	StartedAt    time.Time
	FinishedAt   time.Time
	Verdict      string
	OverallScore int
	RuntimeScore *int
	StaticScore  *int
	UIScore      *int
}

// StageRecord stores the outcome of one stage within a run.
type StageRecord struct {
	ID         string
	RunID      string
	Kind       string
	Status     string
	Score      *int
	DurationMs int64
	Details    string
	Errors     []string // JSON serialized
	CreatedAt  time.Time
}

// RunFilter filters run listings.
type RunFilter struct {
	ProjectDir string
	Verdict    string
	Since      time.Time
	Until      time.Time
	Limit      int
}
