package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Help toggle
	Help key.Binding

	// Manual refresh
	Refresh key.Binding

	// Feed / history switch
	ToggleView key.Binding

	// Detail and settings
	Open     key.Binding
	Settings key.Binding

	// Actions
	MarkRead    key.Binding
	MarkAllRead key.Binding
	Dismiss     key.Binding
	Restore     key.Binding
	ClearAll    key.Binding

	// Session
	Login  key.Binding
	Logout key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		ToggleView: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "feed/history"),
		),
		Open: key.NewBinding(
			key.WithKeys("o", " "),
			key.WithHelp("o/space", "open"),
		),
		Settings: key.NewBinding(
			key.WithKeys(","),
			key.WithHelp(",", "settings"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("enter", "m"),
			key.WithHelp("enter/m", "mark read"),
		),
		MarkAllRead: key.NewBinding(
			key.WithKeys("A"),
			key.WithHelp("A", "mark all read"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "dismiss"),
		),
		Restore: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "restore"),
		),
		ClearAll: key.NewBinding(
			key.WithKeys("C"),
			key.WithHelp("C", "clear all"),
		),
		Login: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "sign in"),
		),
		Logout: key.NewBinding(
			key.WithKeys("X"),
			key.WithHelp("X", "sign out"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Open, k.MarkRead, k.Dismiss,
		k.ToggleView, k.Quit, k.Help,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Back, k.Quit},
		{k.MarkRead, k.MarkAllRead, k.Dismiss, k.Restore, k.ClearAll},
		{k.ToggleView, k.Open, k.Refresh, k.Settings, k.Help},
		{k.Login, k.Logout},
	}
}
