package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/continuous-claude/continuous-claude/internal/command"
)

// PromptPlaceholder is the token in a command template that gets
// replaced with the literal prompt.
const PromptPlaceholder = "{prompt}"

// DefaultCommandTemplate invokes the claude CLI in headless mode with
// JSON output.
const DefaultCommandTemplate = "claude -p {prompt} --dangerously-skip-permissions --output-format json"

// BuildCommand splits template on whitespace and substitutes the
// prompt placeholder, keeping the prompt a single argv element no
// matter how many spaces it contains.
func BuildCommand(template, prompt string) (name string, args []string, err error) {
	tokens := strings.Fields(template)
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("agent command template is empty")
	}
	if !strings.Contains(template, PromptPlaceholder) {
		return "", nil, fmt.Errorf("agent command template missing %s placeholder", PromptPlaceholder)
	}

	name = tokens[0]
	for _, tok := range tokens[1:] {
		if strings.Contains(tok, PromptPlaceholder) {
			tok = strings.ReplaceAll(tok, PromptPlaceholder, prompt)
		}
		args = append(args, tok)
	}
	return name, args, nil
}

// BaseCommand returns the first whitespace-delimited token of the
// template, used for the PATH availability check before a run starts.
func BaseCommand(template string) string {
	tokens := strings.Fields(template)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

// Executor invokes the agent command once per iteration and bundles
// the captured output for classification.
type Executor struct {
	Runner command.Runner
	DryRun bool

	// Diag is the operator-facing diagnostic stream.
	Diag io.Writer
}

// Execute runs one agent invocation. The error log file at
// errorLogPath always exists afterward, possibly empty, so callers can
// test for it. A returned error means the process could not be spawned
// at all; a failing agent is reported through the Result's Kind.
func (e *Executor) Execute(ctx context.Context, prompt, template, errorLogPath string) (Result, error) {
	name, args, err := BuildCommand(template, prompt)
	if err != nil {
		return Result{}, err
	}

	logFile, err := os.Create(errorLogPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create error log: %w", err)
	}
	defer logFile.Close()

	if e.DryRun {
		fmt.Fprintf(e.Diag, "[dry-run] would execute: %s\n", renderCommand(name, args))
		return ParseAgentResult("", 0), nil
	}

	stdout, stderr, exitCode, err := e.Runner.Run(ctx, name, args...)
	if err != nil {
		fmt.Fprintf(logFile, "failed to start %s: %v\n", name, err)
		return Result{}, fmt.Errorf("failed to start agent: %w", err)
	}

	if exitCode != 0 {
		if stderr != "" {
			io.WriteString(logFile, stderr)
		} else {
			writeFallbackDiagnostic(logFile, name, args, exitCode)
		}
	}

	// Structured error detail is the most specific diagnostic we can
	// get, so it is appended even when stderr was captured.
	if msg, ok := structuredErrorMessage(stdout); ok {
		fmt.Fprintf(logFile, "\nagent reported error: %s\n", msg)
	}

	res := ParseAgentResult(stdout, exitCode)
	res.Stderr = stderr
	return res, nil
}

func writeFallbackDiagnostic(w io.Writer, name string, args []string, exitCode int) {
	fmt.Fprintf(w, "%s exited with code %d but produced no error output.\n", name, exitCode)
	fmt.Fprintln(w, "This usually means:")
	fmt.Fprintln(w, "  - the command crashed before writing any diagnostics")
	fmt.Fprintln(w, "  - it was killed by a signal (OOM, timeout)")
	fmt.Fprintln(w, "  - an API rate limit was hit without a message")
	fmt.Fprintf(w, "Try running it manually:\n  %s\n", renderCommand(name, args))
}

// renderCommand reconstructs a copy-pasteable command line, quoting
// arguments that contain whitespace.
func renderCommand(name string, args []string) string {
	parts := []string{name}
	for _, a := range args {
		if strings.ContainsAny(a, " \t\n") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
