package agent

import "testing"

func TestParseAgentResultClassification(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		exitCode int
		want     OutcomeKind
	}{
		{
			name:     "structured success",
			raw:      `{"result":"success","total_cost_usd":0.1}`,
			exitCode: 0,
			want:     OutcomeSuccess,
		},
		{
			name:     "plain text with exit zero",
			raw:      "plain text output",
			exitCode: 0,
			want:     OutcomeSuccess,
		},
		{
			name:     "structured error flag",
			raw:      `{"is_error":true,"result":"error message"}`,
			exitCode: 0,
			want:     OutcomeAgentError,
		},
		{
			name:     "plain text with nonzero exit",
			raw:      "Error output",
			exitCode: 1,
			want:     OutcomeExitCodeError,
		},
		{
			name:     "error flag wins over exit code",
			raw:      `{"is_error":true,"result":"boom"}`,
			exitCode: 2,
			want:     OutcomeAgentError,
		},
		{
			name:     "error flag false is success",
			raw:      `{"is_error":false,"result":"all good"}`,
			exitCode: 0,
			want:     OutcomeSuccess,
		},
		{
			name:     "structured output ignores nonzero exit",
			raw:      `{"result":"done"}`,
			exitCode: 1,
			want:     OutcomeSuccess,
		},
		{
			name:     "empty output with exit zero",
			raw:      "",
			exitCode: 0,
			want:     OutcomeSuccess,
		},
		{
			name:     "empty output with nonzero exit",
			raw:      "",
			exitCode: 7,
			want:     OutcomeExitCodeError,
		},
		{
			name:     "json array is not structured output",
			raw:      `["result"]`,
			exitCode: 1,
			want:     OutcomeExitCodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAgentResult(tt.raw, tt.exitCode)
			if got.Kind != tt.want {
				t.Errorf("ParseAgentResult(%q, %d).Kind = %q, want %q",
					tt.raw, tt.exitCode, got.Kind, tt.want)
			}
		})
	}
}

func TestParseAgentResultDisplayText(t *testing.T) {
	// The result field becomes the transcript text when present.
	res := ParseAgentResult(`{"result":"did the thing","total_cost_usd":0.2}`, 0)
	if res.DisplayText != "did the thing" {
		t.Errorf("DisplayText = %q, want %q", res.DisplayText, "did the thing")
	}

	// Structured output without a result field falls back to the raw
	// payload verbatim.
	raw := `{"total_cost_usd":0.2}`
	res = ParseAgentResult(raw, 0)
	if res.DisplayText != raw {
		t.Errorf("DisplayText = %q, want raw payload %q", res.DisplayText, raw)
	}

	// Plain text stays verbatim.
	res = ParseAgentResult("just some words", 0)
	if res.DisplayText != "just some words" {
		t.Errorf("DisplayText = %q, want verbatim text", res.DisplayText)
	}
}

func TestParseAgentResultCost(t *testing.T) {
	res := ParseAgentResult(`{"result":"ok","total_cost_usd":0.25}`, 0)
	if res.Cost == nil || *res.Cost != 0.25 {
		t.Fatalf("Cost = %v, want 0.25", res.Cost)
	}

	res = ParseAgentResult(`{"result":"ok"}`, 0)
	if res.Cost != nil {
		t.Errorf("Cost = %v, want nil when field absent", *res.Cost)
	}

	res = ParseAgentResult("plain text", 0)
	if res.Cost != nil {
		t.Errorf("Cost = %v, want nil for unstructured output", *res.Cost)
	}

	res = ParseAgentResult(`{"result":"ok","total_cost_usd":-1}`, 0)
	if res.Cost != nil {
		t.Errorf("Cost = %v, want nil for negative cost", *res.Cost)
	}
}

func TestParseAgentResultMetadata(t *testing.T) {
	res := ParseAgentResult(`{"result":"ok","session_id":"sess-1","num_turns":4}`, 0)
	if res.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", res.SessionID)
	}
	if res.NumTurns != 4 {
		t.Errorf("NumTurns = %d, want 4", res.NumTurns)
	}
}

func TestParseAgentResultIdempotent(t *testing.T) {
	raw := `{"is_error":true,"result":"rate limited"}`
	first := ParseAgentResult(raw, 1)
	for i := 0; i < 5; i++ {
		got := ParseAgentResult(raw, 1)
		if got.Kind != first.Kind || got.DisplayText != first.DisplayText {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestStructuredErrorMessage(t *testing.T) {
	msg, ok := structuredErrorMessage(`{"is_error":true,"result":"api blew up"}`)
	if !ok || msg != "api blew up" {
		t.Errorf("structuredErrorMessage = %q, %v; want %q, true", msg, ok, "api blew up")
	}

	raw := `{"is_error":true}`
	msg, ok = structuredErrorMessage(raw)
	if !ok || msg != raw {
		t.Errorf("structuredErrorMessage = %q, %v; want whole payload", msg, ok)
	}

	if _, ok := structuredErrorMessage(`{"is_error":false}`); ok {
		t.Error("structuredErrorMessage reported an error for is_error=false")
	}
	if _, ok := structuredErrorMessage("not json"); ok {
		t.Error("structuredErrorMessage reported an error for plain text")
	}
}
