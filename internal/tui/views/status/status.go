package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/printdialog/printdialog/internal/tui/client"
	"github.com/printdialog/printdialog/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected     bool
	DialogID      string
	KeepAlive     bool
	HideRemote    bool
	HideTemporary bool
	Idle          int
	Processing    int
	Stopped       int
	Backend       *client.Status
	Width         int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// SetCounts updates the per-state printer counts.
func (m *Model) SetCounts(idle, processing, stopped int) {
	m.Idle = idle
	m.Processing = processing
	m.Stopped = stopped
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	parts := []string{connStr}
	if m.DialogID != "" {
		id := m.DialogID
		if len(id) > 8 {
			id = id[:8]
		}
		if m.KeepAlive {
			id += " (pinned)"
		}
		parts = append(parts, theme.StyleDimmed.Render("dialog "+id))
	}

	parts = append(parts, fmt.Sprintf("%d idle  %d busy  %d stopped", m.Idle, m.Processing, m.Stopped))

	var filters []string
	if m.HideRemote {
		filters = append(filters, "no remote")
	}
	if m.HideTemporary {
		filters = append(filters, "no temporary")
	}
	if len(filters) > 0 {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorAccent).Render(strings.Join(filters, ", ")))
	}

	if b := m.Backend; b != nil {
		label := b.Provider
		color := theme.ColorDimmed
		if b.Health != nil {
			label = fmt.Sprintf("%s: %s", b.Provider, b.Health.Status)
			color = theme.HealthColor(string(b.Health.Status))
		}
		parts = append(parts, lipgloss.NewStyle().Foreground(color).Render(label))
		parts = append(parts, theme.StyleDimmed.Render(fmt.Sprintf("%d dialogs", b.Dialogs)))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(strings.Join(parts, sep))

	return bar
}
