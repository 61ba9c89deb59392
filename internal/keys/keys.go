package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keybindings of the card stack.
type KeyMap struct {
	// Swipes
	Accept   key.Binding
	Skip     key.Binding
	MarkRead key.Binding

	// Card
	Open key.Binding

	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Accept: key.NewBinding(
			key.WithKeys("right", "l", "d"),
			key.WithHelp("→/l", "clear"),
		),
		Skip: key.NewBinding(
			key.WithKeys("left", "h", "a"),
			key.WithHelp("←/h", "skip"),
		),
		MarkRead: key.NewBinding(
			key.WithKeys("up", "k", "m"),
			key.WithHelp("↑/k", "mark read"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter", "o"),
			key.WithHelp("enter", "show link"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Accept, k.Skip, k.MarkRead, k.Help, k.Quit}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Accept, k.Skip, k.MarkRead},
		{k.Open, k.Refresh},
		{k.Help, k.Quit},
	}
}
