package agent

import "encoding/json"

// OutcomeKind classifies a single agent invocation.
type OutcomeKind string

const (
	// OutcomeSuccess means the agent completed its work.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeAgentError means the agent itself reported a logical
	// failure via its structured output, regardless of exit code.
	OutcomeAgentError OutcomeKind = "agent_error"

	// OutcomeExitCodeError means the output was not structured and the
	// process exited nonzero.
	OutcomeExitCodeError OutcomeKind = "exit_code_error"
)

// Result is the classified outcome of one agent invocation. It is
// produced once per iteration and consumed immediately by the loop.
type Result struct {
	RawOutput   string
	ExitCode    int
	Stderr      string
	Kind        OutcomeKind
	DisplayText string

	// Cost is the total_cost_usd reported by structured output, nil
	// when the output was unstructured or the field was missing.
	Cost *float64

	SessionID string
	NumTurns  int
}

// structuredOutput mirrors the JSON the claude CLI emits with
// --output-format json. Every field is optional; pointer fields
// distinguish "absent" from zero values.
type structuredOutput struct {
	Result       *string  `json:"result"`
	IsError      *bool    `json:"is_error"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	SessionID    string   `json:"session_id"`
	NumTurns     int      `json:"num_turns"`
	DurationMS   float64  `json:"duration_ms"`
}

func parseStructured(raw string) (*structuredOutput, bool) {
	var out structuredOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return &out, true
}

// ParseAgentResult classifies raw agent output plus the process exit
// code. The agent's output format is not guaranteed: structured JSON
// carries its own error flag which is authoritative when present,
// while plain text falls back to the exit code. Pure function.
func ParseAgentResult(raw string, exitCode int) Result {
	res := Result{RawOutput: raw, ExitCode: exitCode}

	out, ok := parseStructured(raw)
	if !ok {
		// Plain text (or empty) output: the exit code is the only
		// success signal we have.
		res.DisplayText = raw
		if exitCode == 0 {
			res.Kind = OutcomeSuccess
		} else {
			res.Kind = OutcomeExitCodeError
		}
		return res
	}

	res.SessionID = out.SessionID
	res.NumTurns = out.NumTurns

	if out.TotalCostUSD != nil && *out.TotalCostUSD >= 0 {
		cost := *out.TotalCostUSD
		res.Cost = &cost
	}

	if out.Result != nil {
		res.DisplayText = *out.Result
	} else {
		res.DisplayText = raw
	}

	if out.IsError != nil && *out.IsError {
		res.Kind = OutcomeAgentError
	} else {
		res.Kind = OutcomeSuccess
	}

	return res
}

// structuredErrorMessage extracts the error detail from structured
// output when it reports is_error. The message is the result field, or
// the whole payload when the field is absent.
func structuredErrorMessage(raw string) (string, bool) {
	out, ok := parseStructured(raw)
	if !ok || out.IsError == nil || !*out.IsError {
		return "", false
	}
	if out.Result != nil {
		return *out.Result, true
	}
	return raw, true
}
