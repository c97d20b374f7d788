// Package tui implements the interactive installer: a destination picker
// followed by a checklist of discovered skill packages.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jingkaihe/skillman/pkg/descriptor"
	"github.com/jingkaihe/skillman/pkg/install"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/pkg/errors"
)

// DestinationStore remembers the destination chosen last
type DestinationStore interface {
	LastDestination(ctx context.Context) (install.DestinationID, bool, error)
	SetLastDestination(ctx context.Context, id install.DestinationID) error
}

type screen int

const (
	screenPicker screen = iota
	screenChecklist
)

type panel int

const (
	panelNone panel = iota
	panelDescription
	panelLog
)

// maxLogLines bounds how much of the log file the log panel shows
const maxLogLines = 200

// Model is the bubbletea model of the installer
type Model struct {
	ctx          context.Context
	engine       *install.Engine
	destinations []install.Destination
	store        DestinationStore
	logPath      string

	keys     keyMap
	help     help.Model
	viewport viewport.Model

	screen       screen
	panel        panel
	pickerCursor int
	cursor       int
	status       string
	statusIsErr  bool
	width        int
	height       int

	// Styles
	titleStyle      lipgloss.Style
	cursorStyle     lipgloss.Style
	installStyle    lipgloss.Style
	removeStyle     lipgloss.Style
	installedTag    lipgloss.Style
	dimStyle        lipgloss.Style
	statusStyle     lipgloss.Style
	errorStyle      lipgloss.Style
	panelStyle      lipgloss.Style
	panelTitleStyle lipgloss.Style
}

// Option configures a Model
type Option func(*Model)

// WithStore persists and preselects the last chosen destination
func WithStore(store DestinationStore) Option {
	return func(m *Model) {
		m.store = store
	}
}

// WithLogPath sets the file shown by the log panel
func WithLogPath(path string) Option {
	return func(m *Model) {
		m.logPath = path
	}
}

// NewModel creates the installer model. destinations are offered in order.
func NewModel(ctx context.Context, engine *install.Engine, destinations []install.Destination, opts ...Option) Model {
	vp := viewport.New(80, 20)

	m := Model{
		ctx:          ctx,
		engine:       engine,
		destinations: destinations,
		logPath:      logger.LogFilePath(),
		keys:         newKeyMap(),
		help:         help.New(),
		viewport:     vp,
		status:       "Choose a destination",
		width:        80,
		height:       24,

		titleStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		cursorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		installStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		removeStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		installedTag:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		dimStyle:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		statusStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Italic(true),
		errorStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		panelStyle:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1),
		panelTitleStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
	}
	for _, opt := range opts {
		opt(&m)
	}

	if m.store != nil {
		id, ok, err := m.store.LastDestination(ctx)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to read last destination")
		}
		if ok {
			for i, dest := range destinations {
				if dest.ID == id {
					m.pickerCursor = i
				}
			}
		}
	}

	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles key presses and window resizes. Engine calls run inline.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-8, 3)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if m.panel != panelNone {
			return m.updatePanel(msg)
		}
		if m.screen == screenPicker {
			return m.updatePicker(msg)
		}
		return m.updateChecklist(msg)
	}

	return m, nil
}

func (m Model) updatePanel(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Clear):
		m.panel = panelNone
	case key.Matches(msg, m.keys.Description):
		if m.panel == panelDescription {
			m.panel = panelNone
		} else {
			m.openDescription()
		}
	case key.Matches(msg, m.keys.Log):
		if m.panel == panelLog {
			m.panel = panelNone
		} else {
			m.openLog()
		}
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.pickerCursor > 0 {
			m.pickerCursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.pickerCursor < len(m.destinations)-1 {
			m.pickerCursor++
		}
	case key.Matches(msg, m.keys.Log):
		m.openLog()
	case key.Matches(msg, m.keys.Apply):
		m.chooseDestination()
	}
	return m, nil
}

func (m *Model) chooseDestination() {
	if len(m.destinations) == 0 {
		m.setError(errors.New("no destinations configured"))
		return
	}
	dest := m.destinations[m.pickerCursor]
	if err := m.engine.ChooseDestination(m.ctx, dest); err != nil {
		m.setError(err)
		return
	}
	if m.store != nil {
		if err := m.store.SetLastDestination(m.ctx, dest.ID); err != nil {
			logger.G(m.ctx).WithError(err).Warn("failed to remember destination")
		}
	}
	m.screen = screenChecklist
	m.cursor = 0
	m.setStatus(fmt.Sprintf("%d skills, %d installed in %s", len(m.engine.Entries()), installedCount(m.engine), dest.ID.Label()))
}

func (m Model) updateChecklist(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.engine.Entries()

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Toggle):
		if len(entries) == 0 {
			return m, nil
		}
		if err := m.engine.Toggle(entries[m.cursor].Key); err != nil {
			m.setError(err)
			return m, nil
		}
		m.showPlan()
	case key.Matches(msg, m.keys.Clear):
		if err := m.engine.Clear(); err != nil {
			m.setError(err)
			return m, nil
		}
		m.setStatus("Selection reset to what is installed")
	case key.Matches(msg, m.keys.Apply):
		report, err := m.engine.Apply(m.ctx)
		if err != nil {
			m.setError(err)
			return m, nil
		}
		m.showReport("Applied", report)
	case key.Matches(msg, m.keys.Reinstall):
		report, err := m.engine.Reinstall(m.ctx)
		if err != nil {
			m.setError(err)
			return m, nil
		}
		m.showReport("Updated", report)
	case key.Matches(msg, m.keys.Description):
		m.openDescription()
	case key.Matches(msg, m.keys.Log):
		m.openLog()
	case key.Matches(msg, m.keys.Back):
		m.screen = screenPicker
		m.setStatus("Choose a destination")
	}

	if n := len(m.engine.Entries()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	return m, nil
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusIsErr = false
}

func (m *Model) setError(err error) {
	logger.G(m.ctx).WithError(err).Debug("tui operation failed")
	m.status = err.Error()
	m.statusIsErr = true
}

func (m *Model) showPlan() {
	plan := m.engine.Plan()
	if plan.Empty() {
		m.setStatus("No pending changes")
		return
	}
	m.setStatus(fmt.Sprintf("Pending: %d to install, %d to remove (enter to apply)", len(plan.ToInstall), len(plan.ToRemove)))
}

func (m *Model) showReport(verb string, report *install.Report) {
	if len(report.Outcomes) == 0 {
		m.setStatus("Nothing to do")
		return
	}

	parts := []string{}
	if n := len(report.Succeeded(install.ActionInstall)); n > 0 {
		parts = append(parts, fmt.Sprintf("%d installed", n))
	}
	if n := len(report.Succeeded(install.ActionRemove)); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	if n := len(report.Succeeded(install.ActionUpdate)); n > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", n))
	}
	summary := verb + ": " + strings.Join(parts, ", ")

	if failed := report.Failed(); len(failed) > 0 {
		keys := make([]string, 0, len(failed))
		for _, o := range failed {
			keys = append(keys, o.Key)
		}
		m.status = fmt.Sprintf("%s; %d failed (%s), see log", summary, len(failed), strings.Join(keys, ", "))
		m.statusIsErr = true
		return
	}
	m.setStatus(summary)
}

func (m *Model) openDescription() {
	entries := m.engine.Entries()
	if len(entries) == 0 {
		return
	}
	entry := entries[m.cursor]
	pkg := entry.Package

	var sb strings.Builder
	fmt.Fprintf(&sb, "Name:   %s\n", entry.Name())
	fmt.Fprintf(&sb, "Layer:  %s\n", pkg.Layer)
	fmt.Fprintf(&sb, "Source: %s\n", pkg.Root)
	if path, ok := m.engine.InstalledPath(entry.Key); ok {
		fmt.Fprintf(&sb, "Path:   %s\n", path)
	}
	sb.WriteString("\n")
	if desc := pkg.Description(); desc != "" {
		sb.WriteString(desc)
		sb.WriteString("\n\n")
	}
	if contents, err := os.ReadFile(pkg.DescriptorPath()); err == nil {
		sb.WriteString(descriptor.Body(string(contents)))
	} else {
		sb.WriteString(m.dimStyle.Render("SKILL.md is not readable: " + err.Error()))
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoTop()
	m.panel = panelDescription
}

func (m *Model) openLog() {
	m.viewport.SetContent(readLogTail(m.logPath, maxLogLines))
	m.viewport.GotoBottom()
	m.panel = panelLog
}

// readLogTail returns the last n lines of the log file at path
func readLogTail(path string, n int) string {
	if path == "" {
		return "Logging is not going to a file."
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Cannot read %s: %v", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if len(lines) == 1 && lines[0] == "" {
		return "The log is empty."
	}
	return strings.Join(lines, "\n")
}

func installedCount(e *install.Engine) int {
	n := 0
	for _, entry := range e.Entries() {
		if _, ok := e.InstalledPath(entry.Key); ok {
			n++
		}
	}
	return n
}
