package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up            key.Binding
	Down          key.Binding
	Enter         key.Binding
	Escape        key.Binding
	Quit          key.Binding
	HideRemote    key.Binding
	HideTemporary key.Binding
	KeepAlive     key.Binding
	Refresh       key.Binding
	Debug         key.Binding
	ErrorsOnly    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev printer"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next printer"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "detail"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		HideRemote: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "toggle remote"),
		),
		HideTemporary: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "toggle temporary"),
		),
		KeepAlive: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pin dialog"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("l", "f5"),
			key.WithHelp("l", "re-list"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "bus log"),
		),
		ErrorsOnly: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "errors only"),
		),
	}
}
