// Package loop drives repeated agent invocations: budget guards,
// result routing, completion-signal tracking and the termination
// decision. Execution is strictly sequential; iterations share the git
// working tree and must never overlap.
package loop

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/continuous-claude/continuous-claude/internal/agent"
	"github.com/continuous-claude/continuous-claude/internal/completion"
	"github.com/continuous-claude/continuous-claude/internal/logging"
)

// StopReason says why the loop terminated.
type StopReason string

const (
	// StopBudget means max runs or max cost was exhausted.
	StopBudget StopReason = "budget_exhausted"

	// StopSignal means the completion signal streak hit its threshold.
	StopSignal StopReason = "completion_signal"

	// StopError means too many consecutive iteration failures.
	StopError StopReason = "persistent_failure"

	// StopHook means the iteration hook requested an early stop.
	StopHook StopReason = "hook_stop"
)

// DefaultFailureTolerance is how many consecutive failed iterations
// are tolerated before the run aborts. Transient failures such as rate
// limits are expected mid-run, so a single blip never kills a session,
// but looping forever against a broken agent just burns money.
const DefaultFailureTolerance = 3

// Executor runs one agent invocation.
type Executor interface {
	Execute(ctx context.Context, prompt, template, errorLogPath string) (agent.Result, error)
}

// Committer performs the post-iteration version-control side effects.
type Committer interface {
	CommitAndPush(ctx context.Context, index int, message string) (string, error)
}

// IterationInfo is the snapshot handed to an iteration hook.
type IterationInfo struct {
	Index       int
	Label       string
	Outcome     agent.OutcomeKind
	DisplayText string
	TotalCost   float64
	SignalCount int
}

// Hook observes each completed iteration and may return "stop" to end
// the run early.
type Hook interface {
	OnIteration(info IterationInfo) (string, error)
}

// IterationRecord is what gets persisted per iteration.
type IterationRecord struct {
	Index       int
	Label       string
	Result      agent.Result
	Branch      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Recorder persists iteration history. Persistence failures are
// logged, never fatal.
type Recorder interface {
	RecordIteration(rec IterationRecord) error
}

// Context is the mutable run state, threaded through every cycle so a
// single cycle can be unit-tested in isolation.
type Context struct {
	// Iteration is the 1-based index of the iteration about to run.
	Iteration int

	// ExtraRuns extends the run budget when the completion streak is
	// still resolving at the original limit.
	ExtraRuns int

	// Attempted counts iterations that actually invoked the agent.
	Attempted int

	TotalCost   float64
	SignalCount int

	// Failures counts consecutive failed iterations; any success
	// resets it.
	Failures int
}

// Summary is emitted when the loop terminates.
type Summary struct {
	Reason      StopReason `yaml:"reason"`
	Iterations  int        `yaml:"iterations"`
	TotalCost   float64    `yaml:"total_cost_usd"`
	SignalCount int        `yaml:"completion_signal_count"`
	StartedAt   time.Time  `yaml:"started_at"`
	CompletedAt time.Time  `yaml:"completed_at"`
}

// Loop is the iteration state machine. Tracker and Executor are
// required; Committer, Hook and Recorder are optional collaborators.
type Loop struct {
	Prompt           string
	CommandTemplate  string
	ErrorLogPath     string
	MaxRuns          int
	MaxCost          float64
	EnableCommits    bool
	FailureTolerance int

	Executor  Executor
	Tracker   *completion.Tracker
	Committer Committer
	Hook      Hook
	Recorder  Recorder
	Diag      io.Writer
	Log       *logging.Logger
}

// IterationDisplay formats the iteration label for the diagnostic
// stream: "(i/max)" when a run budget is set, where max includes any
// dynamic extension, and "(i)" otherwise.
func IterationDisplay(index, maxRuns, extra int) string {
	if maxRuns > 0 {
		return fmt.Sprintf("(%d/%d)", index, maxRuns+extra)
	}
	return fmt.Sprintf("(%d)", index)
}

// Run drives iterations until a terminal state. The returned error is
// non-nil only for StopError or cancellation; budget and signal
// termination are successful outcomes.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	if l.Log == nil {
		l.Log = logging.Nop()
	}

	state := &Context{Iteration: 1}
	started := time.Now()

	var reason StopReason
	for reason == "" {
		if err := ctx.Err(); err != nil {
			return l.summarize(state, StopError, started), err
		}
		reason = l.step(ctx, state)
		if reason == "" {
			state.Iteration++
		}
	}

	sum := l.summarize(state, reason, started)
	l.printSummary(sum)

	if reason == StopError {
		return sum, fmt.Errorf("aborted after %d consecutive failed iterations", state.Failures)
	}
	return sum, nil
}

// step executes one cycle of the state machine and returns the
// terminal reason, or empty to keep running.
func (l *Loop) step(ctx context.Context, state *Context) StopReason {
	if reason := l.checkBudget(state); reason != "" {
		return reason
	}

	label := IterationDisplay(state.Iteration, l.MaxRuns, state.ExtraRuns)
	fmt.Fprintf(l.Diag, "Starting iteration %s\n", label)
	l.Log.Info("iteration started", "index", state.Iteration, "label", label)

	startedAt := time.Now()
	res, err := l.Executor.Execute(ctx, l.Prompt, l.CommandTemplate, l.ErrorLogPath)
	state.Attempted++
	if err != nil {
		return l.routeFailure(state, label, fmt.Sprintf("agent did not start: %v", err))
	}

	var reason StopReason
	var branch string
	switch res.Kind {
	case agent.OutcomeSuccess:
		reason, branch = l.routeSuccess(ctx, state, label, res)
	default:
		reason = l.routeFailure(state, label, fmt.Sprintf("iteration failed (%s)", res.Kind))
	}

	l.record(IterationRecord{
		Index:       state.Iteration,
		Label:       label,
		Result:      res,
		Branch:      branch,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	})

	return reason
}

// checkBudget enforces max runs and max cost. When the run budget is
// hit mid-streak the budget is extended one iteration at a time so an
// in-progress completion streak gets the chance to resolve; the streak
// either reaches the threshold or resets, so the extension is bounded.
func (l *Loop) checkBudget(state *Context) StopReason {
	if l.MaxRuns > 0 && state.Iteration > l.MaxRuns+state.ExtraRuns {
		if state.SignalCount > 0 && !l.Tracker.Reached(state.SignalCount) {
			state.ExtraRuns++
			fmt.Fprintf(l.Diag, "Completion streak in progress, extending run budget to %d\n",
				l.MaxRuns+state.ExtraRuns)
		} else {
			fmt.Fprintf(l.Diag, "Run budget exhausted (%d iterations)\n", l.MaxRuns+state.ExtraRuns)
			return StopBudget
		}
	}
	if l.MaxCost > 0 && state.TotalCost >= l.MaxCost {
		fmt.Fprintf(l.Diag, "Cost budget exhausted ($%.4f of $%.4f)\n", state.TotalCost, l.MaxCost)
		return StopBudget
	}
	return ""
}

func (l *Loop) routeSuccess(ctx context.Context, state *Context, label string, res agent.Result) (StopReason, string) {
	state.Failures = 0

	if res.Cost != nil {
		state.TotalCost += *res.Cost
		fmt.Fprintf(l.Diag, "Iteration %s complete, cost $%.4f (total $%.4f)\n",
			label, *res.Cost, state.TotalCost)
	} else {
		fmt.Fprintf(l.Diag, "Iteration %s complete\n", label)
	}

	count, detected := l.Tracker.Check(res.DisplayText, label, state.SignalCount)
	state.SignalCount = count
	l.Log.Info("iteration succeeded",
		"index", state.Iteration, "signal_detected", detected, "signal_count", count)

	var branch string
	if l.EnableCommits && l.Committer != nil {
		var err error
		branch, err = l.Committer.CommitAndPush(ctx, state.Iteration,
			commitMessage(state.Iteration, res.DisplayText))
		if err != nil {
			// The agent's work stays in the tree; losing the commit is
			// bookkeeping, not progress.
			fmt.Fprintf(l.Diag, "warning: commit failed for branch %s: %v\n", branch, err)
			l.Log.Warn("commit failed", "branch", branch, "error", err.Error())
		}
	}

	if l.Tracker.Reached(count) {
		return StopSignal, branch
	}

	if l.Hook != nil {
		info := IterationInfo{
			Index:       state.Iteration,
			Label:       label,
			Outcome:     res.Kind,
			DisplayText: res.DisplayText,
			TotalCost:   state.TotalCost,
			SignalCount: count,
		}
		decision, err := l.Hook.OnIteration(info)
		if err != nil {
			fmt.Fprintf(l.Diag, "warning: iteration hook failed: %v\n", err)
			l.Log.Warn("hook failed", "error", err.Error())
		} else if decision == "stop" {
			fmt.Fprintf(l.Diag, "Iteration hook requested stop %s\n", label)
			return StopHook, branch
		}
	}

	return "", branch
}

func (l *Loop) routeFailure(state *Context, label, detail string) StopReason {
	state.Failures++
	tolerance := l.FailureTolerance
	if tolerance <= 0 {
		tolerance = DefaultFailureTolerance
	}

	fmt.Fprintf(l.Diag, "Iteration %s failed: %s (%d/%d consecutive failures)\n",
		label, detail, state.Failures, tolerance)
	l.surfaceErrorLog()
	l.Log.Error("iteration failed", "label", label, "detail", detail, "failures", state.Failures)

	if state.Failures >= tolerance {
		fmt.Fprintf(l.Diag, "Too many consecutive failures, aborting\n")
		return StopError
	}
	return ""
}

// surfaceErrorLog copies the executor's error log to the diagnostic
// stream so the operator sees the full context without hunting for the
// file.
func (l *Loop) surfaceErrorLog() {
	if l.ErrorLogPath == "" {
		return
	}
	data, err := os.ReadFile(l.ErrorLogPath)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return
	}
	fmt.Fprintf(l.Diag, "--- error log ---\n%s\n-----------------\n",
		strings.TrimSpace(string(data)))
}

func (l *Loop) record(rec IterationRecord) {
	if l.Recorder == nil {
		return
	}
	if err := l.Recorder.RecordIteration(rec); err != nil {
		l.Log.Warn("failed to record iteration", "index", rec.Index, "error", err.Error())
	}
}

func (l *Loop) summarize(state *Context, reason StopReason, started time.Time) Summary {
	return Summary{
		Reason:      reason,
		Iterations:  state.Attempted,
		TotalCost:   state.TotalCost,
		SignalCount: state.SignalCount,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
}

func (l *Loop) printSummary(sum Summary) {
	fmt.Fprintf(l.Diag, "\nRun finished: %s\n", reasonText(sum.Reason))
	fmt.Fprintf(l.Diag, "  iterations: %d\n", sum.Iterations)
	if sum.TotalCost > 0 {
		fmt.Fprintf(l.Diag, "  total cost: $%.4f\n", sum.TotalCost)
	}
	if l.Tracker != nil {
		fmt.Fprintf(l.Diag, "  completion streak: %d/%d\n", sum.SignalCount, l.Tracker.Threshold)
	}
}

func reasonText(reason StopReason) string {
	switch reason {
	case StopBudget:
		return "budget exhausted"
	case StopSignal:
		return "project complete"
	case StopError:
		return "persistent failure"
	case StopHook:
		return "stopped by hook"
	default:
		return string(reason)
	}
}

func commitMessage(index int, displayText string) string {
	line := strings.TrimSpace(displayText)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) > 72 {
		line = line[:69] + "..."
	}
	if line == "" {
		return fmt.Sprintf("iteration %d", index)
	}
	return fmt.Sprintf("iteration %d: %s", index, line)
}
