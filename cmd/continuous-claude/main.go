package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/continuous-claude/continuous-claude/internal/agent"
	"github.com/continuous-claude/continuous-claude/internal/command"
	"github.com/continuous-claude/continuous-claude/internal/completion"
	"github.com/continuous-claude/continuous-claude/internal/config"
	"github.com/continuous-claude/continuous-claude/internal/gitops"
	"github.com/continuous-claude/continuous-claude/internal/hooks"
	"github.com/continuous-claude/continuous-claude/internal/logging"
	"github.com/continuous-claude/continuous-claude/internal/loop"
	"github.com/continuous-claude/continuous-claude/internal/models"
	"github.com/continuous-claude/continuous-claude/internal/storage"
	"github.com/continuous-claude/continuous-claude/internal/tui"
)

func main() {
	rootCmd := newRootCommand()

	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "continuous-claude",
		Short: "Run a Claude Code loop until the work is done",
		Long: "continuous-claude invokes an AI coding agent repeatedly, committing each\n" +
			"iteration's work to its own branch, until a run or cost budget is exhausted\n" +
			"or the agent reports completion several iterations in a row.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("prompt", "p", "", "task prompt handed to the agent every iteration")
	flags.IntP("max-runs", "n", 0, "maximum number of iterations (0 = unlimited)")
	flags.Float64("max-cost", 0, "maximum accumulated cost in USD (0 = unlimited)")
	flags.String("signal", completion.DefaultSignal, "completion marker the agent prints when done")
	flags.Int("threshold", completion.DefaultThreshold, "consecutive signal sightings required to stop")
	flags.String("agent-command", agent.DefaultCommandTemplate, "agent command template with a {prompt} placeholder")
	flags.Bool("commit", false, "commit and push each successful iteration to its own branch")
	flags.Bool("open-pr", false, "open a pull request after pushing (implies gh)")
	flags.String("branch-prefix", gitops.DefaultBranchPrefix, "prefix for iteration branches")
	flags.Bool("dry-run", false, "print what would happen without invoking the agent or git")
	flags.Int("failure-tolerance", loop.DefaultFailureTolerance, "consecutive failures tolerated before aborting")
	flags.String("hook", "", "Lua script invoked after each iteration")
	flags.String("error-log", "", "path for the agent error log")
	flags.String("report", "", "write a YAML run report to this path on termination")
	flags.String("log-level", "INFO", "debug log level (DEBUG, INFO, WARN, ERROR)")

	bindings := map[string]string{
		"prompt":               "prompt",
		"max_runs":             "max-runs",
		"max_cost":             "max-cost",
		"completion_signal":    "signal",
		"completion_threshold": "threshold",
		"agent_command":        "agent-command",
		"enable_commits":       "commit",
		"open_pr":              "open-pr",
		"branch_prefix":        "branch-prefix",
		"dry_run":              "dry-run",
		"failure_tolerance":    "failure-tolerance",
		"hook_script":          "hook",
		"error_log":            "error-log",
		"report":               "report",
		"log_level":            "log-level",
	}
	for key, flag := range bindings {
		v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func runLoop(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// The agent has to be on PATH before we burn any iterations.
	base := agent.BaseCommand(cfg.AgentCommand)
	if !cfg.DryRun {
		if _, err := exec.LookPath(base); err != nil {
			return fmt.Errorf("agent command %q not found on PATH", base)
		}
	}

	logger, err := logging.New(cfg.DataDir, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := storage.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	session := &models.Session{
		Prompt:           cfg.Prompt,
		Status:           models.SessionStatusRunning,
		CompletionSignal: cfg.CompletionSignal,
	}
	sessionID, err := store.CreateSession(session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.ID = sessionID

	diag := os.Stdout
	runner := &command.Local{}

	committer := gitops.New(cfg.BranchPrefix, runner, diag)
	committer.DryRun = cfg.DryRun
	committer.OpenPR = cfg.OpenPR

	l := &loop.Loop{
		Prompt:           cfg.Prompt,
		CommandTemplate:  cfg.AgentCommand,
		ErrorLogPath:     cfg.ErrorLogPath(),
		MaxRuns:          cfg.MaxRuns,
		MaxCost:          cfg.MaxCost,
		EnableCommits:    cfg.EnableCommits,
		FailureTolerance: cfg.FailureTolerance,
		Executor:         &agent.Executor{Runner: runner, DryRun: cfg.DryRun, Diag: diag},
		Tracker:          &completion.Tracker{Signal: cfg.CompletionSignal, Threshold: cfg.CompletionThreshold, Diag: diag},
		Committer:        committer,
		Recorder:         &sessionRecorder{store: store, sessionID: sessionID},
		Diag:             diag,
		Log:              logger,
	}

	if cfg.HookScript != "" {
		hook, err := hooks.Load(cfg.HookScript, diag)
		if err != nil {
			return err
		}
		l.Hook = hook
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sum, runErr := l.Run(runCtx)

	now := time.Now()
	session.CompletedAt = &now
	session.Status = sessionStatus(sum.Reason)
	session.StopReason = string(sum.Reason)
	session.TotalCost = sum.TotalCost
	session.Iterations = sum.Iterations
	if err := store.UpdateSession(session); err != nil {
		logger.Warn("failed to update session", "error", err.Error())
	}

	if cfg.Report != "" {
		if err := writeReport(cfg.Report, sum); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	return runErr
}

func sessionStatus(reason loop.StopReason) models.SessionStatus {
	switch reason {
	case loop.StopSignal:
		return models.SessionStatusComplete
	case loop.StopBudget:
		return models.SessionStatusBudget
	case loop.StopHook:
		return models.SessionStatusStopped
	default:
		return models.SessionStatusFailed
	}
}

func writeReport(path string, sum loop.Summary) error {
	data, err := yaml.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// sessionRecorder persists loop iterations into the session store.
type sessionRecorder struct {
	store     *storage.Storage
	sessionID int64
}

func (r *sessionRecorder) RecordIteration(rec loop.IterationRecord) error {
	exitCode := rec.Result.ExitCode
	iter := &models.Iteration{
		SessionID:       r.sessionID,
		Index:           rec.Index,
		Outcome:         string(rec.Result.Kind),
		DisplayText:     rec.Result.DisplayText,
		ExitCode:        &exitCode,
		Cost:            rec.Result.Cost,
		Branch:          rec.Branch,
		ClaudeSessionID: rec.Result.SessionID,
		StartedAt:       &rec.StartedAt,
		CompletedAt:     &rec.CompletedAt,
	}
	_, err := r.store.CreateIteration(iter)
	return err
}

func openStore() (*config.Config, *storage.Storage, error) {
	cfg, err := config.Load(viper.New())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, err
	}
	store, err := storage.New(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, store, nil
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Browse past sessions in a TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			p := tea.NewProgram(tui.NewApp(store), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(20)
			if err != nil {
				return err
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			for _, session := range sessions {
				cost := ""
				if session.TotalCost > 0 {
					cost = fmt.Sprintf(" $%.2f", session.TotalCost)
				}
				fmt.Printf("#%d [%s]%s %s\n",
					session.ID, session.Status, cost, truncate(session.Prompt, 60))
			}

			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show session status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session ID: %w", err)
			}

			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := store.GetSession(sessionID)
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}

			fmt.Printf("Session #%d\n", session.ID)
			fmt.Printf("Status: %s\n", session.Status)
			fmt.Printf("Prompt: %s\n", session.Prompt)
			if session.StopReason != "" {
				fmt.Printf("Stop reason: %s\n", session.StopReason)
			}
			if session.TotalCost > 0 {
				fmt.Printf("Total cost: $%.4f\n", session.TotalCost)
			}

			iters, err := store.GetIterationsForSession(sessionID)
			if err != nil {
				return err
			}

			if len(iters) > 0 {
				fmt.Println("\nIterations:")
				for _, iter := range iters {
					status := iter.Outcome
					if iter.ExitCode != nil {
						status += fmt.Sprintf(" (exit %d)", *iter.ExitCode)
					}
					line := fmt.Sprintf("  %d. [%s]", iter.Index, status)
					if iter.Cost != nil {
						line += fmt.Sprintf(" $%.4f", *iter.Cost)
					}
					if iter.Branch != "" {
						line += " " + iter.Branch
					}
					fmt.Println(line)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session ID: %w", err)
			}

			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteSession(sessionID); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}

			fmt.Printf("Deleted session #%d\n", sessionID)
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
