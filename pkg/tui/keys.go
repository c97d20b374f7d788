package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	Toggle      key.Binding
	Apply       key.Binding
	Clear       key.Binding
	Reinstall   key.Binding
	Description key.Binding
	Log         key.Binding
	Back        key.Binding
	Quit        key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" ", "space"),
			key.WithHelp("space", "toggle"),
		),
		Apply: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "apply"),
		),
		Clear: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear"),
		),
		Reinstall: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "update installed"),
		),
		Description: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "describe"),
		),
		Log: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "log"),
		),
		Back: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "destinations"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// pickerKeys is the help shown on the destination picker
type pickerKeys struct{ k keyMap }

func (p pickerKeys) ShortHelp() []key.Binding {
	choose := key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "choose"))
	return []key.Binding{p.k.Up, p.k.Down, choose, p.k.Log, p.k.Quit}
}

func (p pickerKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{p.ShortHelp()}
}

// ShortHelp implements help.KeyMap for the checklist
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Apply, k.Clear, k.Reinstall, k.Description, k.Log, k.Back, k.Quit}
}

// FullHelp implements help.KeyMap for the checklist
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.Apply, k.Clear, k.Reinstall},
		{k.Description, k.Log, k.Back, k.Quit},
	}
}
