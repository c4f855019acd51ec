package gitops

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	calls    [][]string
	failOn   string
	stderr   string
	exitCode int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	if f.failOn != "" && len(args) > 0 && args[0] == f.failOn {
		return "", f.stderr, f.exitCode, nil
	}
	return "", "", 0, nil
}

func fixedOrchestrator(runner *fakeRunner, diag *bytes.Buffer) *Orchestrator {
	return &Orchestrator{
		Prefix:  "test-prefix/",
		Runner:  runner,
		Diag:    diag,
		Now:     func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) },
		RandHex: func() string { return "abcdef12" },
	}
}

func TestBranchName(t *testing.T) {
	o := fixedOrchestrator(&fakeRunner{}, &bytes.Buffer{})

	got := o.BranchName(1)
	want := "test-prefix/iteration-1/2024-01-01-abcdef12"
	if got != want {
		t.Errorf("BranchName(1) = %q, want %q", got, want)
	}

	if got := o.BranchName(42); !strings.Contains(got, "iteration-42/") {
		t.Errorf("BranchName(42) = %q, missing iteration index", got)
	}
}

func TestBranchNamesDifferAcrossRuns(t *testing.T) {
	o := New("x/", &fakeRunner{}, &bytes.Buffer{})
	a := o.BranchName(1)
	b := o.BranchName(1)
	if a == b {
		t.Errorf("two branch names for the same index collided: %q", a)
	}
}

func TestCommitAndPushSequence(t *testing.T) {
	runner := &fakeRunner{}
	o := fixedOrchestrator(runner, &bytes.Buffer{})

	branch, err := o.CommitAndPush(context.Background(), 3, "iteration 3: did things")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}
	if branch != "test-prefix/iteration-3/2024-01-01-abcdef12" {
		t.Errorf("branch = %q", branch)
	}

	want := [][]string{
		{"git", "checkout", "-b", branch},
		{"git", "add", "-A"},
		{"git", "commit", "-m", "iteration 3: did things"},
		{"git", "push", "-u", "origin", branch},
	}
	if len(runner.calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %v", len(runner.calls), len(want), runner.calls)
	}
	for i, call := range runner.calls {
		if strings.Join(call, " ") != strings.Join(want[i], " ") {
			t.Errorf("call %d = %v, want %v", i, call, want[i])
		}
	}
}

func TestCommitAndPushOpensPR(t *testing.T) {
	runner := &fakeRunner{}
	o := fixedOrchestrator(runner, &bytes.Buffer{})
	o.OpenPR = true

	branch, err := o.CommitAndPush(context.Background(), 1, "msg")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}

	last := runner.calls[len(runner.calls)-1]
	want := []string{"gh", "pr", "create", "--fill", "--head", branch}
	if strings.Join(last, " ") != strings.Join(want, " ") {
		t.Errorf("last call = %v, want %v", last, want)
	}
}

func TestCommitAndPushDryRun(t *testing.T) {
	runner := &fakeRunner{}
	var diag bytes.Buffer
	o := fixedOrchestrator(runner, &diag)
	o.DryRun = true

	branch, err := o.CommitAndPush(context.Background(), 1, "msg")
	if err != nil {
		t.Fatalf("CommitAndPush: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("dry run invoked subprocesses: %v", runner.calls)
	}
	if !strings.Contains(diag.String(), "[dry-run] would commit to branch "+branch) {
		t.Errorf("dry run notice missing: %q", diag.String())
	}
}

func TestCommitAndPushReturnsBranchOnFailure(t *testing.T) {
	runner := &fakeRunner{failOn: "push", stderr: "remote: permission denied", exitCode: 128}
	o := fixedOrchestrator(runner, &bytes.Buffer{})

	branch, err := o.CommitAndPush(context.Background(), 2, "msg")
	if err == nil {
		t.Fatal("expected push failure")
	}
	if branch == "" {
		t.Error("branch name lost on failure")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("error does not carry stderr detail: %v", err)
	}
	if !strings.Contains(err.Error(), "exited 128") {
		t.Errorf("error does not carry exit code: %v", err)
	}
}
