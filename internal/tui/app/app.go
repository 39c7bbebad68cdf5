package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/printdialog/printdialog/internal/tui/client"
	"github.com/printdialog/printdialog/internal/tui/theme"
	"github.com/printdialog/printdialog/internal/tui/views/debug"
	"github.com/printdialog/printdialog/internal/tui/views/detail"
	"github.com/printdialog/printdialog/internal/tui/views/status"
)

const statusInterval = 5 * time.Second

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayDebug
)

type statusMsg struct {
	status *client.Status
	err    error
}

type statusTickMsg struct{}

// Model is the root Bubble Tea model: a single print dialog.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	// Printer state.
	printers       map[string]*client.Printer
	order          []string // sorted printer names
	defaultPrinter string

	// Dialog preferences, re-sent after a reconnect.
	hideRemote    bool
	hideTemporary bool
	keepAlive     bool

	// Navigation.
	selectedIdx int
	overlay     Overlay

	// Sub-views.
	statusBar status.Model
	detail    detail.Model
	log       debug.Model

	connected bool
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		printers:  make(map[string]*client.Printer),
		statusBar: status.New(),
		log:       debug.New(),
	}
}

// Init starts the WebSocket connection and the status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), m.fetchStatus())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.log.Log(debug.KindConn, "connected")
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.log.Log(debug.KindConn, "disconnected: %v", msg.Err)
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSHelloMsg:
		m.statusBar.DialogID = msg.ID
		m.log.Log(debug.KindConn, "hello %s", msg.ID)
		m.printers = make(map[string]*client.Printer)
		m.rebuildOrder()
		m.resume()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSPrinterListMsg:
		// printer_added may have overtaken the reply, so merge by name.
		for i := range msg.Payload.Printers {
			p := msg.Payload.Printers[i]
			m.printers[p.Name] = &p
		}
		m.log.Log(debug.KindReply, "printer list: %d printers (created=%t)", len(msg.Payload.Printers), msg.Payload.Created)
		m.rebuildOrder()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSPrinterAddedMsg:
		p := msg.Payload.Printer
		m.printers[p.Name] = &p
		m.log.Log(debug.KindSignal, "printer_added %s", p.Name)
		m.rebuildOrder()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSPrinterStateMsg:
		if p, ok := m.printers[msg.Payload.Name]; ok {
			p.State = msg.Payload.State
			p.AcceptingJobs = msg.Payload.AcceptingJobs
		}
		m.log.Log(debug.KindSignal, "printer_state_changed %s %s", msg.Payload.Name, msg.Payload.State)
		m.updateCounts()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDefaultPrinterMsg:
		m.defaultPrinter = msg.Name
		m.rebuildOrder()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSAckMsg:
		m.handleAck(msg.Type)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.log.Log(debug.KindError, "%s %s: %s", msg.Type, msg.Payload.Code, msg.Payload.Message)
		return m, m.ws.ReadLoop(m.ctx)

	case statusMsg:
		if msg.err != nil {
			m.log.Log(debug.KindHTTP, "status: %v", msg.err)
		} else {
			m.statusBar.Backend = msg.status
		}
		return m, tea.Tick(statusInterval, func(time.Time) tea.Msg { return statusTickMsg{} })

	case statusTickMsg:
		return m, m.fetchStatus()
	}

	return m, nil
}

// resume re-applies this dialog's preferences after hello and asks for
// the printer list. A pinned dialog kept them on the backend; a fresh one
// needs them again.
func (m *Model) resume() {
	if m.hideRemote {
		m.sendLogged(m.ws.SetHideRemote(true))
	}
	if m.hideTemporary {
		m.sendLogged(m.ws.SetHideTemporary(true))
	}
	if m.keepAlive {
		m.sendLogged(m.ws.KeepAlive())
	}
	m.sendLogged(m.ws.GetPrinterList())
	m.sendLogged(m.ws.GetDefaultPrinter())
}

func (m *Model) handleAck(typ client.MessageType) {
	switch typ {
	case client.MsgHideRemote, client.MsgUnhideRemote, client.MsgHideTemporary, client.MsgUnhideTemporary:
		// The backend reset the view and restarted discovery without
		// retracting anything, so take a fresh snapshot.
		m.printers = make(map[string]*client.Printer)
		m.rebuildOrder()
		m.sendLogged(m.ws.GetPrinterList())
	case client.MsgKeepAlive:
		m.keepAlive = true
		m.statusBar.KeepAlive = true
	case client.MsgStopListing:
		m.printers = make(map[string]*client.Printer)
		m.rebuildOrder()
	}
	m.log.Log(debug.KindReply, "ack %s", typ)
}

func (m *Model) sendLogged(err error) {
	if err != nil {
		m.log.Log(debug.KindError, "send: %v", err)
	}
}

func (m Model) fetchStatus() tea.Cmd {
	if m.http == nil {
		return nil
	}
	h := m.http
	return func() tea.Msg {
		st, err := h.GetStatus()
		return statusMsg{status: st, err: err}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Up):
			m.log.ScrollUp(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Down):
			m.log.ScrollDown(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.ErrorsOnly):
			m.log.ToggleErrorsOnly()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.ws != nil {
			m.ws.Close()
		}
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.order) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.order) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.order)) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.HideRemote):
		m.hideRemote = !m.hideRemote
		m.statusBar.HideRemote = m.hideRemote
		m.sendLogged(m.ws.SetHideRemote(m.hideRemote))
		return m, nil

	case key.Matches(msg, m.keys.HideTemporary):
		m.hideTemporary = !m.hideTemporary
		m.statusBar.HideTemporary = m.hideTemporary
		m.sendLogged(m.ws.SetHideTemporary(m.hideTemporary))
		return m, nil

	case key.Matches(msg, m.keys.KeepAlive):
		m.sendLogged(m.ws.KeepAlive())
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.sendLogged(m.ws.GetPrinterList())
		return m, nil

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		if p := m.selected(); p != nil {
			m.detail = detail.New(p, p.Name == m.defaultPrinter)
			m.overlay = OverlayDetail
		}
		return m, nil
	}

	return m, nil
}

func (m Model) selected() *client.Printer {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.order) {
		return nil
	}
	return m.printers[m.order[m.selectedIdx]]
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if !m.connected {
		box := theme.StyleBorder.
			Padding(1, 4).
			BorderForeground(theme.ColorDanger).
			Render(lipgloss.JoinVertical(lipgloss.Center,
				lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
				theme.StyleDimmed.Render("Reconnecting to backend..."),
			))
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}

	switch m.overlay {
	case OverlayDetail:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.detail.View())
	case OverlayDebug:
		return m.log.View(m.width, m.height)
	}

	sections := []string{
		m.statusBar.View(),
		m.renderPrinterList(),
		theme.StyleDimmed.Render("  j/k:navigate  enter:detail  r:remote  t:temporary  p:pin  l:re-list  d:bus log  q:quit"),
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderPrinterList() string {
	lines := []string{theme.StyleHeader.Render("=== PRINTERS ==================================================")}

	for i, name := range m.order {
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		lines = append(lines, m.renderPrinterLine(prefix, m.printers[name]))
	}

	if len(m.order) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  No printers discovered yet"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderPrinterLine(prefix string, p *client.Printer) string {
	state := string(p.State)
	glyph := lipgloss.NewStyle().Foreground(theme.StateColor(state)).Render(theme.StateGlyph(state))

	name := p.DisplayName()
	if len(name) > 32 {
		name = name[:31] + "…"
	}
	nameStyle := lipgloss.NewStyle().Foreground(theme.ColorBright)
	if prefix == "> " {
		nameStyle = theme.StyleSelected
	}

	line := prefix + glyph + " " + theme.KindBadge(p.Remote, p.Temporary) + " " + nameStyle.Render(name)
	if p.Name == m.defaultPrinter {
		line += lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(" ★")
	}
	if s := detail.Summary(p); s != "" {
		line += "  " + theme.StyleDimmed.Render(s)
	}
	return line
}

// rebuildOrder sorts printers with the default first, then by display name.
func (m *Model) rebuildOrder() {
	m.order = make([]string, 0, len(m.printers))
	for name := range m.printers {
		m.order = append(m.order, name)
	}
	sort.Slice(m.order, func(i, j int) bool {
		ni, nj := m.order[i], m.order[j]
		if (ni == m.defaultPrinter) != (nj == m.defaultPrinter) {
			return ni == m.defaultPrinter
		}
		di := strings.ToLower(m.printers[ni].DisplayName())
		dj := strings.ToLower(m.printers[nj].DisplayName())
		if di != dj {
			return di < dj
		}
		return ni < nj
	})
	if m.selectedIdx >= len(m.order) {
		m.selectedIdx = 0
	}
	m.updateCounts()
}

func (m *Model) updateCounts() {
	idle, processing, stopped := 0, 0, 0
	for _, p := range m.printers {
		switch p.State {
		case client.StateIdle:
			idle++
		case client.StateProcessing:
			processing++
		case client.StateStopped:
			stopped++
		}
	}
	m.statusBar.SetCounts(idle, processing, stopped)
}
