// Package completion detects the repeated completion signal that ends
// a continuous run. The agent is asked to print a marker phrase once it
// believes the project is finished; only a streak of consecutive
// sightings is trusted, since a single one is often premature.
package completion

import (
	"fmt"
	"io"
	"strings"
)

// DefaultSignal is the marker phrase the agent is expected to emit.
const DefaultSignal = "CONTINUOUS_CLAUDE_PROJECT_COMPLETE"

// DefaultThreshold is how many consecutive sightings end the run.
const DefaultThreshold = 3

// Tracker scans classified success output for the signal and maintains
// the consecutive-hit count. Termination on the threshold is the
// loop's decision, not the tracker's.
type Tracker struct {
	Signal    string
	Threshold int

	// Diag receives detection and reset notices.
	Diag io.Writer
}

// Check looks for the signal in displayText with an exact
// case-sensitive substring match. It returns the new consecutive count
// and whether the signal was seen this iteration. A miss resets the
// count to zero; the reset notice is only emitted when there was a
// streak to lose.
func (t *Tracker) Check(displayText, iterationLabel string, prior int) (int, bool) {
	if strings.Contains(displayText, t.Signal) {
		count := prior + 1
		fmt.Fprintf(t.Diag, "Completion signal detected %s (%d/%d consecutive)\n",
			iterationLabel, count, t.Threshold)
		return count, true
	}

	if prior > 0 {
		fmt.Fprintf(t.Diag, "Completion signal not seen %s, streak reset\n", iterationLabel)
	}
	return 0, false
}

// Reached reports whether count satisfies the configured threshold.
func (t *Tracker) Reached(count int) bool {
	return count >= t.Threshold
}
