// Package theme provides the Lip Gloss color palette and reusable styles
// for the printdialog TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Printer state colors.
var (
	ColorIdle       = lipgloss.Color("#16a34a")
	ColorProcessing = lipgloss.Color("#2563eb")
	ColorStopped    = lipgloss.Color("#dc2626")
	ColorDefault    = lipgloss.Color("#9ca3af")
)

// Printer kind badge colors.
var (
	ColorLocal     = lipgloss.Color("#a855f7")
	ColorRemote    = lipgloss.Color("#06b6d4")
	ColorTemporary = lipgloss.Color("#d97706")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorAccent  = lipgloss.Color("#7c3aed")
)

// StateColor returns the Lip Gloss color for a printer state string.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "idle":
		return ColorIdle
	case "processing":
		return ColorProcessing
	case "stopped":
		return ColorStopped
	default:
		return ColorDefault
	}
}

// StateGlyph returns a Unicode glyph representing a printer state.
func StateGlyph(state string) string {
	switch state {
	case "idle":
		return "○"
	case "processing":
		return "●>"
	case "stopped":
		return "✗"
	default:
		return "·"
	}
}

// KindBadge returns a colored badge for where a printer lives.
func KindBadge(remote, temporary bool) string {
	switch {
	case temporary:
		return lipgloss.NewStyle().Foreground(ColorTemporary).Render("[T]")
	case remote:
		return lipgloss.NewStyle().Foreground(ColorRemote).Render("[R]")
	default:
		return lipgloss.NewStyle().Foreground(ColorLocal).Render("[L]")
	}
}

// HealthColor returns the color for a provider health status.
func HealthColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "failed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
