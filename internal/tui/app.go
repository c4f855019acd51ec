package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/continuous-claude/continuous-claude/internal/models"
	"github.com/continuous-claude/continuous-claude/internal/storage"
)

type View int

const (
	ViewSessionList View = iota
	ViewSessionDetail
	ViewOutput
)

type App struct {
	store *storage.Storage

	view            View
	sessions        []*models.Session
	selectedIdx     int
	selectedSession *models.Session
	iterations      []*models.Iteration
	selectedIterIdx int
	output          viewport.Model
	outputReady     bool

	width  int
	height int
	err    error
}

func NewApp(store *storage.Storage) *App {
	return &App{
		store: store,
		view:  ViewSessionList,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadSessions, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningSessions() bool {
	for _, session := range a.sessions {
		if session.Status == models.SessionStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.output.Width = msg.Width
		a.output.Height = msg.Height - 4
		a.outputReady = true
		return a, nil

	case sessionsLoadedMsg:
		a.sessions = msg.sessions
		a.err = msg.err
		return a, a.tickCmd()

	case tickMsg:
		// Keep the list fresh while a run is still writing history.
		if a.view == ViewSessionList && a.hasRunningSessions() {
			return a, tea.Batch(a.loadSessions, a.tickCmd())
		}
		return a, a.tickCmd()

	case sessionDetailMsg:
		a.selectedSession = msg.session
		a.iterations = msg.iterations
		a.err = msg.err
		if a.err == nil {
			a.view = ViewSessionDetail
		}
		return a, nil

	case sessionDeletedMsg:
		a.err = msg.err
		if a.selectedIdx >= len(a.sessions)-1 && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, a.loadSessions
	}

	if a.view == ViewOutput {
		var cmd tea.Cmd
		a.output, cmd = a.output.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewSessionList:
		return a.handleSessionListKey(msg)
	case ViewSessionDetail:
		return a.handleSessionDetailKey(msg)
	case ViewOutput:
		return a.handleOutputKey(msg)
	}
	return a, nil
}

func (a *App) handleSessionListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.sessions)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.sessions) > 0 && a.selectedIdx < len(a.sessions) {
			return a, a.loadSessionDetail(a.sessions[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadSessions

	case "d":
		if len(a.sessions) > 0 && a.selectedIdx < len(a.sessions) {
			return a, a.deleteSession(a.sessions[a.selectedIdx].ID)
		}
	}

	return a, nil
}

func (a *App) handleSessionDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionList
		a.selectedSession = nil
		a.iterations = nil
		a.selectedIterIdx = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIterIdx > 0 {
			a.selectedIterIdx--
		}

	case "down", "j":
		if a.selectedIterIdx < len(a.iterations)-1 {
			a.selectedIterIdx++
		}

	case "enter", "o":
		if len(a.iterations) > 0 && a.selectedIterIdx < len(a.iterations) {
			iter := a.iterations[a.selectedIterIdx]
			content := iter.DisplayText
			if content == "" {
				content = "(no output captured)"
			}
			a.output.SetContent(content)
			a.output.GotoTop()
			a.view = ViewOutput
		}
	}

	return a, nil
}

func (a *App) handleOutputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.output, cmd = a.output.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewSessionList:
		return a.viewSessionList()
	case ViewSessionDetail:
		return a.viewSessionDetail()
	case ViewOutput:
		return a.viewOutput()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusBudget   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewSessionList() string {
	s := titleStyle.Render("Continuous Claude") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.sessions) == 0 {
		s += "No sessions yet. Start one with: continuous-claude -p \"...\" -n 10\n"
	} else {
		s += "Recent Sessions\n"
		s += "───────────────\n"

		for i, session := range a.sessions {
			line := a.formatSessionLine(session)
			isSelected := i == a.selectedIdx
			isRunning := session.Status == models.SessionStatusRunning

			if isSelected {
				line = selectedStyle.Render("▶ " + line)
			} else if !isRunning {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")

	return s
}

func (a *App) formatSessionLine(session *models.Session) string {
	status := a.formatStatus(session.Status)
	age := a.formatAge(session.CreatedAt)
	prompt := truncate(session.Prompt, 35)
	cost := ""
	if session.TotalCost > 0 {
		cost = fmt.Sprintf("$%.2f", session.TotalCost)
	}
	return fmt.Sprintf("#%-3d %s  %-6s  %-7s %s", session.ID, status, age, cost, prompt)
}

func (a *App) formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func (a *App) formatStatus(status models.SessionStatus) string {
	switch status {
	case models.SessionStatusRunning:
		return statusRunning.Render("● running ")
	case models.SessionStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.SessionStatusFailed:
		return statusFailed.Render("✗ failed  ")
	case models.SessionStatusBudget:
		return statusBudget.Render("◷ budget  ")
	case models.SessionStatusStopped:
		return statusBudget.Render("■ stopped ")
	default:
		return string(status)
	}
}

func (a *App) viewSessionDetail() string {
	if a.selectedSession == nil {
		return "No session selected"
	}

	session := a.selectedSession

	header := fmt.Sprintf("Session #%d", session.ID)
	s := titleStyle.Render(header) + "  " + a.formatStatus(session.Status) + "\n\n"

	s += session.Prompt + "\n\n"

	if session.TotalCost > 0 {
		s += labelStyle.Render("Total cost: ") + fmt.Sprintf("$%.4f", session.TotalCost) + "\n"
	}
	if session.StopReason != "" {
		s += labelStyle.Render("Stopped: ") + session.StopReason + "\n"
	}
	s += "\n"

	s += "Iterations\n"
	s += "──────────\n"

	if len(a.iterations) == 0 {
		s += "(no iterations recorded)\n"
	} else {
		for i, iter := range a.iterations {
			line := a.formatIterationLine(iter)
			if i == a.selectedIterIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] output  [esc] back  [q] quit")

	return s
}

func (a *App) formatIterationLine(iter *models.Iteration) string {
	outcome := "○"
	switch iter.Outcome {
	case "success":
		outcome = statusComplete.Render("✓")
	case "agent_error", "exit_code_error":
		outcome = statusFailed.Render("✗")
	}

	exitCode := ""
	if iter.ExitCode != nil {
		if *iter.ExitCode == 0 {
			exitCode = dimStyle.Render("exit:0")
		} else {
			exitCode = statusFailed.Render(fmt.Sprintf("exit:%d", *iter.ExitCode))
		}
	}

	duration := ""
	if iter.StartedAt != nil && iter.CompletedAt != nil {
		duration = dimStyle.Render(formatDuration(iter.CompletedAt.Sub(*iter.StartedAt)))
	}

	cost := ""
	if iter.Cost != nil {
		cost = dimStyle.Render(fmt.Sprintf("$%.4f", *iter.Cost))
	}

	line := fmt.Sprintf("%d. %s", iter.Index, outcome)
	for _, part := range []string{exitCode, duration, cost} {
		if part != "" {
			line += "  " + part
		}
	}
	if iter.Branch != "" {
		line += "  " + dimStyle.Render(iter.Branch)
	}
	return line
}

func (a *App) viewOutput() string {
	s := titleStyle.Render("Iteration Output") + "\n\n"
	if a.outputReady {
		s += a.output.View() + "\n"
	}
	s += helpStyle.Render("[↑/↓] scroll  [esc] back  [q] quit")
	return s
}

// Messages

type sessionsLoadedMsg struct {
	sessions []*models.Session
	err      error
}

type sessionDetailMsg struct {
	session    *models.Session
	iterations []*models.Iteration
	err        error
}

type sessionDeletedMsg struct {
	sessionID int64
	err       error
}

// Commands

func (a *App) loadSessions() tea.Msg {
	sessions, err := a.store.ListSessions(20)
	return sessionsLoadedMsg{sessions: sessions, err: err}
}

func (a *App) loadSessionDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		session, err := a.store.GetSession(id)
		if err != nil {
			return sessionDetailMsg{err: err}
		}

		iters, err := a.store.GetIterationsForSession(id)
		return sessionDetailMsg{session: session, iterations: iters, err: err}
	}
}

func (a *App) deleteSession(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.store.DeleteSession(id); err != nil {
			return sessionDeletedMsg{err: err}
		}
		return sessionDeletedMsg{sessionID: id}
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
