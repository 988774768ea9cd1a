package stage

import "time"

// Kind identifies one phase of an evaluation run. The set is closed: the
// aggregator groups kinds into categories by name.
type Kind string

const (
	KindStartup Kind = "startup"
	KindHealth  Kind = "health"
	KindAPI     Kind = "api"
	KindStatic  Kind = "static"
	KindUI      Kind = "ui"
)

// Status is the outcome of a single stage.
type Status string

const (
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusNeedsConfig Status = "needs_config"
	StatusRunning     Status = "running"
)

// Result is the unit exchanged with the aggregator. Score, when present, is
// always in [0,100]; a nil Score means the stage carries no score and is
// excluded from category means.
type Result struct {
	Kind     Kind          `json:"kind"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Score    *int          `json:"score,omitempty"`
	Details  string        `json:"details,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

// ScoreOf clamps v into [0,100] and returns it as a score pointer.
func ScoreOf(v int) *int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

// Skipped builds a skipped stage with an explanatory detail.
func Skipped(kind Kind, detail string) Result {
	return Result{Kind: kind, Status: StatusSkipped, Details: detail}
}

// Metrics is the derived, read-only view over a run's stage results:
// the overall score plus per-category scores. Computed once, after all
// stages complete.
type Metrics struct {
	Overall int          `json:"overall"`
	Runtime *int         `json:"runtime,omitempty"`
	Static  *int         `json:"static,omitempty"`
	UI      *int         `json:"ui,omitempty"`
	Stages  map[Kind]int `json:"stages,omitempty"`
}
