// Package debug keeps a bounded log of the bus conversation with the
// backend: connection changes, printer signals, replies and errors.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/printdialog/printdialog/internal/tui/theme"
)

const maxEntries = 200

// Kind classifies a log line.
type Kind int

const (
	KindConn   Kind = iota // connect, disconnect, hello
	KindSignal             // printer_added, printer_state_changed
	KindReply              // replies and acks
	KindError              // bus errors and failed sends
	KindHTTP               // status polling
	numKinds
)

var kindLabels = [numKinds]string{"conn", "sig", "rply", "err", "http"}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "?"
	}
	return kindLabels[k]
}

func (k Kind) color() lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorProcessing
	case KindSignal:
		return theme.ColorAccent
	case KindError:
		return theme.ColorDanger
	case KindHTTP:
		return theme.ColorWarning
	default:
		return theme.ColorDimmed
	}
}

// Entry is one log line. Identical consecutive lines are folded into one
// entry and Repeat counts the extra occurrences.
type Entry struct {
	Time   time.Time
	Kind   Kind
	Text   string
	Repeat int
}

// Model holds the log state.
type Model struct {
	Entries    []Entry
	Offset     int // lines scrolled up from the newest entry
	ErrorsOnly bool

	counts [numKinds]int
	now    func() time.Time
}

func New() Model {
	return Model{now: time.Now}
}

// Log records a line. Counters include every occurrence, so they survive
// folding and eviction.
func (m *Model) Log(kind Kind, format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	if kind >= 0 && kind < numKinds {
		m.counts[kind]++
	}
	at := m.clock()

	if n := len(m.Entries); n > 0 {
		last := &m.Entries[n-1]
		if last.Kind == kind && last.Text == text {
			last.Repeat++
			last.Time = at
			m.Offset = 0
			return
		}
	}

	m.Entries = append(m.Entries, Entry{Time: at, Kind: kind, Text: text})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

func (m *Model) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// Count reports how many lines of kind were ever logged.
func (m *Model) Count(kind Kind) int {
	if kind < 0 || kind >= numKinds {
		return 0
	}
	return m.counts[kind]
}

func (m *Model) Errors() int {
	return m.counts[KindError]
}

// ToggleErrorsOnly switches between the full log and errors alone.
func (m *Model) ToggleErrorsOnly() {
	m.ErrorsOnly = !m.ErrorsOnly
	m.Offset = 0
}

func (m *Model) visible() []Entry {
	if !m.ErrorsOnly {
		return m.Entries
	}
	var out []Entry
	for _, e := range m.Entries {
		if e.Kind == KindError {
			out = append(out, e)
		}
	}
	return out
}

func (m *Model) ScrollUp(n int) {
	limit := len(m.visible()) - 1
	if limit < 0 {
		limit = 0
	}
	m.Offset = min(m.Offset+n, limit)
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 30)
	rows := max(height-7, 3)

	title := theme.StyleHeader.Render(" BUS LOG ")
	if m.ErrorsOnly {
		title += theme.StyleDimmed.Render("  errors only")
	}

	entries := m.visible()
	var body string
	switch {
	case len(m.Entries) == 0:
		body = theme.StyleDimmed.Render("  No bus traffic yet.")
	case len(entries) == 0:
		body = theme.StyleDimmed.Render("  No errors.")
	default:
		end := max(len(entries)-m.Offset, 0)
		start := max(end-rows, 0)
		lines := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			lines = append(lines, m.renderEntry(e, innerW))
		}
		body = strings.Join(lines, "\n")
	}

	var more string
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", m.Offset))
	}

	return lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.tally(), "", body, more, m.help()))
}

func (m Model) renderEntry(e Entry, width int) string {
	stamp := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
	label := lipgloss.NewStyle().Foreground(e.Kind.color()).Width(5).Render(e.Kind.String())
	text := e.Text
	if e.Repeat > 0 {
		text = fmt.Sprintf("%s ×%d", text, e.Repeat+1)
	}
	if limit := width - 20; limit > 3 && len(text) > limit {
		text = text[:limit-3] + "..."
	}
	return stamp + " " + label + text
}

// tally summarises the counters, e.g. "conn 2  sig 130  rply 4  err 1".
func (m Model) tally() string {
	parts := make([]string, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		if m.counts[k] == 0 {
			continue
		}
		style := lipgloss.NewStyle().Foreground(k.color())
		parts = append(parts, style.Render(fmt.Sprintf("%s %d", k, m.counts[k])))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "  ")
}

func (m Model) help() string {
	filter := "e:errors only"
	if m.ErrorsOnly {
		filter = "e:show all"
	}
	return theme.StyleDimmed.Render("j/k:scroll  " + filter + "  esc:close")
}
