package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner records invocations and plays back a scripted outcome.
type fakeRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error

	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout, f.stderr, f.exitCode, f.err
}

func TestBuildCommand(t *testing.T) {
	name, args, err := BuildCommand(DefaultCommandTemplate, "fix the bug")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if name != "claude" {
		t.Errorf("name = %q, want claude", name)
	}
	want := []string{"-p", "fix the bug", "--dangerously-skip-permissions", "--output-format", "json"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildCommandEmbeddedPlaceholder(t *testing.T) {
	_, args, err := BuildCommand("agent --task={prompt} --json", "do it")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if args[0] != "--task=do it" {
		t.Errorf("args[0] = %q, want --task=do it", args[0])
	}
}

func TestBuildCommandValidation(t *testing.T) {
	if _, _, err := BuildCommand("", "x"); err == nil {
		t.Error("empty template accepted")
	}
	if _, _, err := BuildCommand("claude -p", "x"); err == nil {
		t.Error("template without placeholder accepted")
	}
}

func TestBaseCommand(t *testing.T) {
	if got := BaseCommand(DefaultCommandTemplate); got != "claude" {
		t.Errorf("BaseCommand = %q, want claude", got)
	}
	if got := BaseCommand(""); got != "" {
		t.Errorf("BaseCommand(\"\") = %q, want empty", got)
	}
}

func TestExecuteDryRun(t *testing.T) {
	runner := &fakeRunner{}
	var diag bytes.Buffer
	e := &Executor{Runner: runner, DryRun: true, Diag: &diag}
	logPath := filepath.Join(t.TempDir(), "error.log")

	res, err := e.Execute(context.Background(), "do work", DefaultCommandTemplate, logPath)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(runner.calls) != 0 {
		t.Errorf("dry run spawned a subprocess: %v", runner.calls)
	}
	if res.Kind != OutcomeSuccess || res.ExitCode != 0 || res.RawOutput != "" {
		t.Errorf("dry run result = %+v, want synthetic success", res)
	}
	if !strings.Contains(diag.String(), "[dry-run]") {
		t.Errorf("diag = %q, want dry-run notice", diag.String())
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("error log not created in dry run: %v", err)
	}
}

func TestExecuteErrorLogVerbatimStderr(t *testing.T) {
	runner := &fakeRunner{stdout: "boom", stderr: "stack trace here\n", exitCode: 1}
	e := &Executor{Runner: runner, Diag: &bytes.Buffer{}}
	logPath := filepath.Join(t.TempDir(), "error.log")

	res, err := e.Execute(context.Background(), "x", DefaultCommandTemplate, logPath)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind != OutcomeExitCodeError {
		t.Errorf("Kind = %q, want exit_code_error", res.Kind)
	}
	if res.Stderr != "stack trace here\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if string(data) != "stack trace here\n" {
		t.Errorf("error log = %q, want stderr verbatim", data)
	}
}

func TestExecuteErrorLogFallbackBlock(t *testing.T) {
	runner := &fakeRunner{stdout: "", stderr: "", exitCode: 3}
	e := &Executor{Runner: runner, Diag: &bytes.Buffer{}}
	logPath := filepath.Join(t.TempDir(), "error.log")

	if _, err := e.Execute(context.Background(), "fix stuff", DefaultCommandTemplate, logPath); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	log := string(data)

	for _, want := range []string{
		"exited with code 3",
		"no error output",
		"This usually means",
		"Try running it manually",
		"'fix stuff'",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("fallback diagnostic missing %q:\n%s", want, log)
		}
	}
}

func TestExecuteAppendsStructuredError(t *testing.T) {
	// Structured error detail lands in the log even when stderr was
	// also captured.
	runner := &fakeRunner{
		stdout:   `{"is_error":true,"result":"model overloaded"}`,
		stderr:   "generic failure\n",
		exitCode: 1,
	}
	e := &Executor{Runner: runner, Diag: &bytes.Buffer{}}
	logPath := filepath.Join(t.TempDir(), "error.log")

	res, err := e.Execute(context.Background(), "x", DefaultCommandTemplate, logPath)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind != OutcomeAgentError {
		t.Errorf("Kind = %q, want agent_error", res.Kind)
	}

	data, _ := os.ReadFile(logPath)
	log := string(data)
	if !strings.Contains(log, "generic failure") {
		t.Errorf("error log lost stderr:\n%s", log)
	}
	if !strings.Contains(log, "model overloaded") {
		t.Errorf("error log missing structured error detail:\n%s", log)
	}
}

func TestExecuteSuccessLeavesEmptyLog(t *testing.T) {
	runner := &fakeRunner{stdout: `{"result":"ok"}`, exitCode: 0}
	e := &Executor{Runner: runner, Diag: &bytes.Buffer{}}
	logPath := filepath.Join(t.TempDir(), "error.log")

	if _, err := e.Execute(context.Background(), "x", DefaultCommandTemplate, logPath); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("error log should exist after success: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("error log = %q, want empty", data)
	}
}
