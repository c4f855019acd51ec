// Package gitops creates the per-iteration branch and delegates
// commit, push and PR creation to the external git and gh tools. Every
// failure here is reported to the loop but never aborts it: the
// agent's work stays in the tree even when bookkeeping fails.
package gitops

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/continuous-claude/continuous-claude/internal/command"
)

// DefaultBranchPrefix namespaces branches created by this tool.
const DefaultBranchPrefix = "continuous-claude/"

// Orchestrator performs the version-control side effects after a
// successful iteration. The clock and random source are injectable so
// branch names are deterministic under test.
type Orchestrator struct {
	Prefix string
	DryRun bool
	OpenPR bool
	Runner command.Runner
	Diag   io.Writer

	Now     func() time.Time
	RandHex func() string
}

// New returns an Orchestrator with the real clock and random source.
func New(prefix string, runner command.Runner, diag io.Writer) *Orchestrator {
	return &Orchestrator{
		Prefix:  prefix,
		Runner:  runner,
		Diag:    diag,
		Now:     time.Now,
		RandHex: randHex8,
	}
}

func randHex8() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// BranchName derives the branch for an iteration. The date keeps
// branches sortable and the random suffix keeps same-day runs from
// colliding.
func (o *Orchestrator) BranchName(index int) string {
	return fmt.Sprintf("%siteration-%d/%s-%s",
		o.Prefix, index, o.Now().Format("2006-01-02"), o.RandHex())
}

// CommitAndPush creates the iteration branch, commits pending changes,
// pushes, and optionally opens a PR. It returns the branch name even
// on failure so the caller can report which branch was attempted.
func (o *Orchestrator) CommitAndPush(ctx context.Context, index int, message string) (string, error) {
	branch := o.BranchName(index)

	if o.DryRun {
		fmt.Fprintf(o.Diag, "[dry-run] would commit to branch %s\n", branch)
		return branch, nil
	}

	if err := o.git(ctx, "checkout", "-b", branch); err != nil {
		return branch, err
	}
	if err := o.git(ctx, "add", "-A"); err != nil {
		return branch, err
	}
	if err := o.git(ctx, "commit", "-m", message); err != nil {
		return branch, err
	}
	if err := o.git(ctx, "push", "-u", "origin", branch); err != nil {
		return branch, err
	}

	if o.OpenPR {
		if err := o.run(ctx, "gh", "pr", "create", "--fill", "--head", branch); err != nil {
			return branch, err
		}
	}

	return branch, nil
}

func (o *Orchestrator) git(ctx context.Context, args ...string) error {
	return o.run(ctx, "git", args...)
}

func (o *Orchestrator) run(ctx context.Context, name string, args ...string) error {
	stdout, stderr, exitCode, err := o.Runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	if exitCode != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return fmt.Errorf("%s %s exited %d: %s", name, args[0], exitCode, detail)
	}
	return nil
}
