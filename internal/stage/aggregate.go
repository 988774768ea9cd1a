package stage

import "math"

// Verdict is the overall outcome of a run.
type Verdict string

const (
	VerdictPassed  Verdict = "passed"
	VerdictFailed  Verdict = "failed"
	VerdictPartial Verdict = "partial"
)

// Aggregate reduces heterogeneous stage results into category scores and one
// overall verdict.
//
// The "runtime" category is the mean of whichever of startup/health/api
// carried a score; absent stages are excluded, not zero-filled. The "static"
// and "ui" categories are taken directly from their own stage when present.
// The overall score is the mean of the present category scores, 0 when no
// category is present.
//
// Verdict rules: passed iff at least one stage passed and none failed;
// failed iff every evaluated stage failed; partial on a mix or when nothing
// was evaluated at all. Skipped and needs_config stages are not "evaluated"
// and never force failure.
func Aggregate(stages []Result) (Verdict, Metrics) {
	m := Metrics{Stages: make(map[Kind]int)}

	var runtimeScores []int
	for _, s := range stages {
		if s.Score == nil {
			continue
		}
		m.Stages[s.Kind] = *s.Score
		switch s.Kind {
		case KindStartup, KindHealth, KindAPI:
			runtimeScores = append(runtimeScores, *s.Score)
		case KindStatic:
			v := *s.Score
			m.Static = &v
		case KindUI:
			v := *s.Score
			m.UI = &v
		}
	}
	if len(runtimeScores) > 0 {
		v := roundMean(runtimeScores)
		m.Runtime = &v
	}

	var categories []int
	for _, c := range []*int{m.Runtime, m.Static, m.UI} {
		if c != nil {
			categories = append(categories, *c)
		}
	}
	if len(categories) > 0 {
		m.Overall = roundMean(categories)
	}

	passed, failed := 0, 0
	for _, s := range stages {
		switch s.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		}
	}

	switch {
	case passed == 0 && failed == 0:
		// Nothing was evaluated (needs_config, everything skipped).
		return VerdictPartial, m
	case failed == 0:
		return VerdictPassed, m
	case passed == 0:
		return VerdictFailed, m
	default:
		return VerdictPartial, m
	}
}

func roundMean(vs []int) int {
	if len(vs) == 0 {
		return 0
	}
	sum := 0
	for _, v := range vs {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(vs))))
}
