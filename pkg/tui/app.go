// Package tui is a terminal monitor for the sessions of a running agent.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/holon-run/localagent/pkg/procsession"
	"github.com/holon-run/localagent/pkg/search"
	"github.com/holon-run/localagent/pkg/serve"
)

const (
	refreshInterval = 2 * time.Second
	requestTimeout  = 5 * time.Second
	maxRows         = 10
)

// Backend is the subset of the RPC client the monitor needs.
type Backend interface {
	Status(ctx context.Context) (*serve.StatusResponse, error)
	ListSearches(ctx context.Context) ([]search.SessionInfo, error)
	ListProcesses(ctx context.Context) ([]procsession.SessionInfo, error)
	StopSearch(ctx context.Context, id string) (*search.StopResult, error)
	CloseProcess(ctx context.Context, id string, force bool) (*procsession.CloseResult, error)
}

type panel int

const (
	panelSearches panel = iota
	panelProcesses
)

// App is the TUI application state
type App struct {
	backend     Backend
	target      string
	status      *serve.StatusResponse
	searches    []search.SessionInfo
	processes   []procsession.SessionInfo
	err         error
	connected   bool
	lastUpdate  time.Time
	quitting    bool
	autoRefresh bool
	panel       panel
	selected    [2]int
	message     string
}

// NewApp creates a monitor; target is shown in the header.
func NewApp(backend Backend, target string) *App {
	return &App{
		backend:     backend,
		target:      target,
		autoRefresh: true,
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Padding(0, 1)

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("black")).
			Background(lipgloss.Color("cyan")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("blue"))

	activeBorderStyle = borderStyle.
			BorderForeground(lipgloss.Color("cyan"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Messages
type snapshotMsg struct {
	status    *serve.StatusResponse
	searches  []search.SessionInfo
	processes []procsession.SessionInfo
	err       error
}

type actionMsg struct {
	message string
	err     error
}

type tickMsg time.Time

// Init initializes the application
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refreshCmd(), a.tick())
}

// Update handles messages and updates state
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit

		case "R":
			return a, a.refreshCmd()

		case " ":
			a.autoRefresh = !a.autoRefresh
			if a.autoRefresh {
				return a, a.tick()
			}
			return a, nil

		case "tab":
			if a.panel == panelSearches {
				a.panel = panelProcesses
			} else {
				a.panel = panelSearches
			}
			return a, nil

		case "up", "k":
			if a.selected[a.panel] > 0 {
				a.selected[a.panel]--
			}
			return a, nil

		case "down", "j":
			if a.selected[a.panel] < a.rowCount(a.panel)-1 {
				a.selected[a.panel]++
			}
			return a, nil

		case "s":
			if a.panel != panelSearches {
				return a, nil
			}
			if id, ok := a.selectedSearch(); ok {
				return a, a.stopSearchCmd(id)
			}
			return a, nil

		case "x":
			if a.panel != panelProcesses {
				return a, nil
			}
			if id, ok := a.selectedProcess(); ok {
				return a, a.closeProcessCmd(id)
			}
			return a, nil
		}

	case snapshotMsg:
		if msg.err != nil {
			a.err = msg.err
			a.connected = false
			return a, nil
		}
		a.status = msg.status
		a.searches = msg.searches
		a.processes = msg.processes
		a.err = nil
		a.connected = true
		a.lastUpdate = time.Now()
		a.clampSelection()
		return a, nil

	case actionMsg:
		if msg.err != nil {
			a.message = fmt.Sprintf("Error: %s", msg.err)
		} else {
			a.message = msg.message
		}
		return a, a.refreshCmd()

	case tickMsg:
		if !a.quitting && a.autoRefresh {
			return a, tea.Batch(a.refreshCmd(), a.tick())
		}
		return a, nil
	}

	return a, nil
}

func (a *App) rowCount(p panel) int {
	if p == panelSearches {
		return len(a.searches)
	}
	return len(a.processes)
}

func (a *App) clampSelection() {
	for _, p := range []panel{panelSearches, panelProcesses} {
		n := a.rowCount(p)
		if a.selected[p] >= n {
			a.selected[p] = n - 1
		}
		if a.selected[p] < 0 {
			a.selected[p] = 0
		}
	}
}

func (a *App) selectedSearch() (string, bool) {
	i := a.selected[panelSearches]
	if i < 0 || i >= len(a.searches) {
		return "", false
	}
	return a.searches[i].ID, true
}

func (a *App) selectedProcess() (string, bool) {
	i := a.selected[panelProcesses]
	if i < 0 || i >= len(a.processes) {
		return "", false
	}
	return a.processes[i].ID, true
}

// View renders the monitor.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("localagent monitor"))
	b.WriteString("\n\n")

	if a.connected {
		b.WriteString(statusStyle.Render(fmt.Sprintf("Connected: %s | Last Update: %s",
			a.target, a.lastUpdate.Format("15:04:05"))))
	} else if a.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Connection Error: %s", a.err.Error())))
	} else {
		b.WriteString(statusStyle.Render("Connecting..."))
	}
	b.WriteString("\n\n")

	if a.status != nil {
		b.WriteString(a.renderStatusPanel())
		b.WriteString("\n")
	}
	b.WriteString(a.renderSearchPanel())
	b.WriteString("\n")
	b.WriteString(a.renderProcessPanel())
	b.WriteString("\n")

	if a.message != "" {
		b.WriteString(statusStyle.Render(a.message))
		b.WriteString("\n")
	}
	b.WriteString(a.renderHelp())

	return b.String()
}

func (a *App) renderStatusPanel() string {
	s := a.status
	line := fmt.Sprintf("Version: %s | Uptime: %s | Searches: %d running / %d | Processes: %d running / %d",
		s.Version, s.Uptime, s.SearchesRunning, s.SearchesTotal, s.ProcessesRunning, s.ProcessesTotal)
	return borderStyle.Width(100).Render(statusStyle.Render(line))
}

func (a *App) panelBorder(p panel) lipgloss.Style {
	if a.panel == p {
		return activeBorderStyle
	}
	return borderStyle
}

func (a *App) renderSearchPanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Searches"))
	b.WriteString("\n")

	if len(a.searches) == 0 {
		b.WriteString(idleStyle.Render("No search sessions"))
		b.WriteString("\n")
	}
	start, end := window(a.selected[panelSearches], len(a.searches))
	for i := start; i < end; i++ {
		s := a.searches[i]
		row := fmt.Sprintf("%-32s %-9s %6d  %-12s %s",
			s.ID, s.Status, s.ResultCount, truncate(s.Pattern, 12), truncate(s.Directory, 36))
		b.WriteString(a.rowStyle(panelSearches, i, s.IsRunning).Render(row))
		b.WriteString("\n")
	}
	return a.panelBorder(panelSearches).Width(100).Render(b.String())
}

func (a *App) renderProcessPanel() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Processes"))
	b.WriteString("\n")

	if len(a.processes) == 0 {
		b.WriteString(idleStyle.Render("No process sessions"))
		b.WriteString("\n")
	}
	start, end := window(a.selected[panelProcesses], len(a.processes))
	for i := start; i < end; i++ {
		p := a.processes[i]
		state := "exited"
		if p.IsRunning {
			state = "running"
		}
		command := strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
		row := fmt.Sprintf("%-32s %-8s %7d  %8s  %s",
			p.ID, state, p.PID, (time.Duration(p.RuntimeMS) * time.Millisecond).Round(time.Second), truncate(command, 36))
		b.WriteString(a.rowStyle(panelProcesses, i, p.IsRunning).Render(row))
		b.WriteString("\n")
	}
	return a.panelBorder(panelProcesses).Width(100).Render(b.String())
}

func (a *App) rowStyle(p panel, i int, running bool) lipgloss.Style {
	switch {
	case a.panel == p && a.selected[p] == i:
		return selectedStyle
	case running:
		return statusStyle
	default:
		return idleStyle
	}
}

// window returns the visible row range keeping selected in view.
func window(selected, n int) (int, int) {
	start := 0
	if selected >= maxRows {
		start = selected - maxRows + 1
	}
	end := start + maxRows
	if end > n {
		end = n
	}
	return start, end
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func (a *App) renderHelp() string {
	auto := "on"
	if !a.autoRefresh {
		auto = "off"
	}
	help := fmt.Sprintf("Commands: [Tab] Switch Panel | [↑/↓] Select | [s] Stop Search | [x] Close Process | [R] Refresh | [Space] Auto-Refresh (%s) | [q] Quit", auto)
	return helpStyle.Render(help)
}

// Commands
func (a *App) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		status, err := a.backend.Status(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		searches, err := a.backend.ListSearches(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		processes, err := a.backend.ListProcesses(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{status: status, searches: searches, processes: processes}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) stopSearchCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := a.backend.StopSearch(ctx, id)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{message: fmt.Sprintf("%s: %s", id, res.Message)}
	}
}

func (a *App) closeProcessCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := a.backend.CloseProcess(ctx, id, false)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{message: fmt.Sprintf("%s: %s", id, res.Message)}
	}
}
