package tui

import (
	"fmt"
	"strings"

	"github.com/jingkaihe/skillman/pkg/install"
)

// Markers shown in front of checklist rows
const (
	markerInstall   = "✓"
	markerRemove    = "✖"
	markerInstalled = "o"
	markerNone      = " "
)

// View renders the current screen
func (m Model) View() string {
	var body string
	switch {
	case m.panel != panelNone:
		body = m.panelView()
	case m.screen == screenPicker:
		body = m.pickerView()
	default:
		body = m.checklistView()
	}

	status := m.statusStyle.Render(m.status)
	if m.statusIsErr {
		status = m.errorStyle.Render(m.status)
	}

	var helpView string
	if m.screen == screenPicker && m.panel == panelNone {
		helpView = m.help.View(pickerKeys{m.keys})
	} else {
		helpView = m.help.View(m.keys)
	}

	return body + "\n\n" + status + "\n" + helpView
}

func (m Model) pickerView() string {
	var sb strings.Builder
	sb.WriteString(m.titleStyle.Render("Install skills into"))
	sb.WriteString("\n\n")

	for i, dest := range m.destinations {
		line := fmt.Sprintf("%s  %s", dest.ID.Label(), m.dimStyle.Render(dest.Dir))
		if i == m.pickerCursor {
			sb.WriteString(m.cursorStyle.Render("> ") + line)
		} else {
			sb.WriteString("  " + line)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) checklistView() string {
	dest := m.engine.Destination()

	var sb strings.Builder
	sb.WriteString(m.titleStyle.Render(dest.ID.Label()))
	sb.WriteString(" ")
	sb.WriteString(m.dimStyle.Render(dest.Dir))
	sb.WriteString("\n\n")

	entries := m.engine.Entries()
	if len(entries) == 0 {
		sb.WriteString(m.dimStyle.Render("No skills found."))
		return sb.String()
	}

	first, last := m.visibleRange(len(entries))
	for i := first; i < last; i++ {
		sb.WriteString(m.row(entries[i], i == m.cursor))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// visibleRange keeps the cursor on screen when the list is taller than the window
func (m Model) visibleRange(n int) (int, int) {
	rows := max(m.height-7, 5)
	if n <= rows {
		return 0, n
	}
	first := max(m.cursor-rows/2, 0)
	if first+rows > n {
		first = n - rows
	}
	return first, first + rows
}

func (m Model) row(entry install.Entry, selected bool) string {
	status := m.engine.Status(entry.Key)

	var marker string
	switch status {
	case install.StatusPendingInstall:
		marker = m.installStyle.Render(markerInstall)
	case install.StatusPendingRemove:
		marker = m.removeStyle.Render(markerRemove)
	case install.StatusInstalled:
		marker = m.installedTag.Render(markerInstalled)
	default:
		marker = markerNone
	}

	name := entry.Name()
	switch {
	case entry.Orphan:
		name += " " + m.installedTag.Render("[installed]")
	case entry.Qualified:
		name += " " + m.dimStyle.Render("["+entry.Package.Layer.String()+"]")
	}

	line := fmt.Sprintf("[%s] %s", marker, name)
	if desc := entry.Package.Description(); desc != "" {
		line += "  " + m.dimStyle.Render(truncate(desc, max(m.width-len(entry.Name())-20, 20)))
	}

	if selected {
		return m.cursorStyle.Render("> ") + line
	}
	return "  " + line
}

func (m Model) panelView() string {
	title := "Log"
	if m.panel == panelDescription {
		title = "Description"
	}
	header := m.panelTitleStyle.Render(title) + " " + m.dimStyle.Render("(esc to close)")
	return header + "\n" + m.panelStyle.Render(m.viewport.View())
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
