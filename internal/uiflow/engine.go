package uiflow

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/runvet/runvet/internal/stage"
)

// consoleErrorCap limits how many console errors each flow contributes to
// the stage error list.
const consoleErrorCap = 5

// Run drives the browser through the baseline and exploratory flows and
// reduces them into one UI stage result plus the screenshot paths written.
// The browser session is released on every exit path.
func Run(ctx context.Context, opts Options) (stage.Result, []string) {
	start := time.Now()

	if ctx == nil {
		return failedStage(start, "uiflow: nil context"), nil
	}
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Host == "" {
		return failedStage(start, fmt.Sprintf("uiflow: invalid base url %q", opts.BaseURL)), nil
	}

	s, err := newSession(ctx, opts)
	if err != nil {
		return failedStage(start, err.Error()), nil
	}
	defer s.close()

	flows := []FlowResult{s.baselineFlow(base.String())}
	if flows[0].Passed {
		flows = append(flows, s.exploratoryFlow(base))
	}
	if suite, ok := detectProjectSuite(opts.ProjectDir); ok {
		flows = append(flows, suite)
	}

	console, netErrs := s.errorSnapshots()
	for i := range flows {
		flows[i].ConsoleErrors = console
		flows[i].NetworkErrors = netErrs
	}

	res := reduceFlows(flows)
	res.Duration = time.Since(start)
	return res, s.screenshots
}

func failedStage(start time.Time, msg string) stage.Result {
	return stage.Result{
		Kind:     stage.KindUI,
		Status:   stage.StatusFailed,
		Duration: time.Since(start),
		Score:    stage.ScoreOf(0),
		Errors:   []string{msg},
	}
}

// reduceFlows folds flow results into the UI stage: the stage passes iff
// every flow passed; the score is the ratio of passed steps to total steps;
// the error list is every step error plus a capped slice of each flow's
// console errors.
func reduceFlows(flows []FlowResult) stage.Result {
	out := stage.Result{Kind: stage.KindUI}

	totalSteps, passedSteps := 0, 0
	allPassed := len(flows) > 0
	seenConsole := make(map[string]bool)

	for _, f := range flows {
		if !f.Passed {
			allPassed = false
		}
		for _, st := range f.Steps {
			totalSteps++
			if st.Passed {
				passedSteps++
			} else if st.Err != "" {
				out.Errors = append(out.Errors, fmt.Sprintf("%s/%s: %s", f.Name, st.Kind, st.Err))
			}
		}
		added := 0
		for _, ce := range f.ConsoleErrors {
			if added == consoleErrorCap {
				break
			}
			if seenConsole[ce] {
				continue
			}
			seenConsole[ce] = true
			out.Errors = append(out.Errors, "console: "+ce)
			added++
		}
	}

	score := 0
	if totalSteps > 0 {
		score = int(math.Round(float64(passedSteps) / float64(totalSteps) * 100))
	}
	out.Score = stage.ScoreOf(score)
	out.Details = fmt.Sprintf("%d/%d steps passed across %d flows", passedSteps, totalSteps, len(flows))
	if allPassed {
		out.Status = stage.StatusPassed
	} else {
		out.Status = stage.StatusFailed
	}
	return out
}
