package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	quit       key.Binding
	focus      key.Binding
	up         key.Binding
	down       key.Binding
	selectMaid key.Binding
	deselect   key.Binding
	edit       key.Binding
	toggle     key.Binding
	lock       key.Binding
	resync     key.Binding
	valueLimit key.Binding
	help       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		focus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "switch panel"),
		),
		up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		selectMaid: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select maid"),
		),
		deselect: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "deselect"),
		),
		edit: key.NewBinding(
			key.WithKeys("enter", "e"),
			key.WithHelp("e", "edit field"),
		),
		toggle: key.NewBinding(
			key.WithKeys("t", " "),
			key.WithHelp("t", "toggle"),
		),
		lock: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "lock/unlock"),
		),
		resync: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "resync"),
		),
		valueLimit: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "value limit"),
		),
		help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.focus, k.edit, k.toggle, k.lock, k.help, k.quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.focus, k.selectMaid, k.deselect},
		{k.edit, k.toggle, k.lock},
		{k.resync, k.valueLimit, k.help, k.quit},
	}
}
