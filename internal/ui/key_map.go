package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up     key.Binding
	down   key.Binding
	tab    key.Binding
	cancel key.Binding
	retry  key.Binding
	remove key.Binding
	verify key.Binding
	yes    key.Binding
	no     key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		tab:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch view")),
		cancel: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		retry:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		remove: key.NewBinding(key.WithKeys("d", "delete"), key.WithHelp("d", "remove")),
		verify: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "verify files")),
		yes:    key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:     key.NewBinding(key.WithKeys("n", "esc"), key.WithHelp("n", "no")),
		quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.tab, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.tab},
		{k.cancel, k.retry},
		{k.remove, k.verify, k.quit},
	}
}
