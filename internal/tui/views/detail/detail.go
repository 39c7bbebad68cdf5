// Package detail renders the printer info flyout overlay.
package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/printdialog/printdialog/internal/tui/client"
	"github.com/printdialog/printdialog/internal/tui/theme"
)

const (
	panelWidth = 64
	labelWidth = 14
)

var (
	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed).
			Width(labelWidth)

	styleValue = lipgloss.NewStyle().
			Foreground(theme.ColorBright)

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBright)

	styleFooter = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed)

	styleSectionHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorDimmed)
)

// Model holds the state for the detail overlay.
type Model struct {
	Printer *client.Printer
	Default bool
	// Style is the glamour style used for the description; "dark" when empty.
	Style string
}

// New creates a detail model for the given printer.
func New(p *client.Printer, isDefault bool) Model {
	return Model{Printer: p, Default: isDefault}
}

// View renders the detail panel. Returns an empty string if no printer is set.
func (m Model) View() string {
	if m.Printer == nil {
		return ""
	}
	return stylePanel.Width(panelWidth).Render(m.renderInner(m.Printer))
}

func (m Model) renderInner(p *client.Printer) string {
	var b strings.Builder

	title := "Printer: " + p.DisplayName()
	if m.Default {
		title += "  ★ default"
	}
	b.WriteString(styleTitle.Render(title) + "\n")
	b.WriteString(strings.Repeat("─", panelWidth-4) + "\n")

	writeRow(&b, "Queue", truncate(p.Name, 40))
	writeRow(&b, "Kind", theme.KindBadge(p.Remote, p.Temporary)+" "+kindLabel(p))

	state := string(p.State)
	writeRow(&b, "State", lipgloss.NewStyle().Foreground(theme.StateColor(state)).Render(theme.StateGlyph(state)+" "+state))

	accepting := lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("yes")
	if !p.AcceptingJobs {
		accepting = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("no")
	}
	writeRow(&b, "Accepting", accepting)

	if p.MakeModel != "" {
		writeRow(&b, "Model", truncate(p.MakeModel, 40))
	}
	if p.Location != "" {
		writeRow(&b, "Location", truncate(p.Location, 40))
	}
	if p.Backend != "" {
		writeRow(&b, "Backend", p.Backend)
	}

	if p.Info != "" {
		b.WriteString("\n")
		b.WriteString(styleSectionHeader.Render("Description") + "\n")
		b.WriteString(m.renderMarkdown(p.Info))
	}

	b.WriteString("\n")
	b.WriteString(styleFooter.Render("[esc] close"))

	return b.String()
}

// renderMarkdown renders a printer description, which admins may write in
// markdown. Rendering failures fall back to the raw text.
func (m Model) renderMarkdown(md string) string {
	style := m.Style
	if style == "" {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(panelWidth-6),
	)
	if err != nil {
		return md + "\n"
	}
	out, err := r.Render(md)
	if err != nil {
		return md + "\n"
	}
	return strings.Trim(out, "\n") + "\n"
}

func kindLabel(p *client.Printer) string {
	switch {
	case p.Temporary:
		return "temporary"
	case p.Remote:
		return "remote"
	default:
		return "local"
	}
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString(styleLabel.Render(label+":") + styleValue.Render(value) + "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// Summary returns a one-line description used by the list view.
func Summary(p *client.Printer) string {
	parts := []string{}
	if p.Location != "" {
		parts = append(parts, p.Location)
	}
	if !p.AcceptingJobs {
		parts = append(parts, "not accepting jobs")
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
}
