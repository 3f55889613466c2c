// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

// Package picker is the terminal device chooser. It renders the
// candidate devices as a list, remembers the previous run's selection as
// the initial state, and reports either the chosen devices or a cancel.
package picker

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/droidops/deployctl/internal/deploy"
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Accept key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle: key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
		Accept: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "deploy")),
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "cancel")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Accept, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Toggle, k.Accept, k.Quit}}
}

type item struct {
	device  deploy.Device
	checked bool
}

// Model is the picker's bubbletea state.
type Model struct {
	items     []item
	cursor    int
	multi     bool
	confirmed bool
	cancelled bool
	keys      keyMap
	help      help.Model
}

// NewModel builds a picker over candidates, pre-checking serials chosen
// in a previous run.
func NewModel(candidates []deploy.Device, preselected []string, multi bool) Model {
	previous := make(map[string]bool, len(preselected))
	for _, s := range preselected {
		previous[s] = true
	}
	items := make([]item, len(candidates))
	for i, d := range candidates {
		items[i] = item{device: d, checked: multi && previous[d.Serial]}
	}
	return Model{items: items, multi: multi, keys: defaultKeyMap(), help: help.New()}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(keyMsg, m.keys.Quit):
		m.cancelled = true
		return m, tea.Quit

	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case key.Matches(keyMsg, m.keys.Toggle):
		if m.multi && len(m.items) > 0 {
			m.items[m.cursor].checked = !m.items[m.cursor].checked
		}

	case key.Matches(keyMsg, m.keys.Accept):
		if len(m.items) == 0 {
			m.cancelled = true
			return m, tea.Quit
		}
		if !m.multi || !m.anyChecked() {
			m.items[m.cursor].checked = true
		}
		m.confirmed = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) anyChecked() bool {
	for _, it := range m.items {
		if it.checked {
			return true
		}
	}
	return false
}

func (m Model) View() string {
	title := "TARGET DEVICE"
	if m.multi {
		title = "TARGET DEVICES"
	}

	var lines []string
	lines = append(lines, titleStyle.Render(title))
	for i, it := range m.items {
		d := it.device

		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("▶") + " "
		}

		check := ""
		if m.multi {
			if it.checked {
				check = cursorStyle.Render("[x]") + " "
			} else {
				check = mutedStyle.Render("[ ]") + " "
			}
		}

		kind := "usb"
		if d.Emulator() {
			kind = "avd"
		}

		name := nameStyle.Render(d.DisplayName())
		if i == m.cursor {
			name = selectedNameStyle.Render(d.DisplayName())
		}

		detail := ""
		if d.APILevel > 0 {
			detail = mutedStyle.Render(fmt.Sprintf("  API %d", d.APILevel))
		}
		lines = append(lines, fmt.Sprintf("%s%s%s %s %s%s",
			cursor, check, statusDot(d.Online()), kindBadge.Render(kind), name, detail))
	}
	if len(m.items) == 0 {
		lines = append(lines, mutedStyle.Render("  No devices found"))
	}
	lines = append(lines, helpStyle.Render(m.help.View(m.keys)))
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

// Selected returns the checked devices after the program has finished.
func (m Model) Selected() []deploy.Device {
	if !m.confirmed {
		return nil
	}
	var out []deploy.Device
	for _, it := range m.items {
		if it.checked {
			out = append(out, it.device)
		}
	}
	return out
}

// TerminalChooser runs the picker as a full bubbletea program on the
// controlling terminal.
type TerminalChooser struct{}

func (TerminalChooser) ChooseDevices(candidates []deploy.Device, preselected []string, multi bool) ([]deploy.Device, error) {
	model := NewModel(candidates, preselected, multi)
	program := tea.NewProgram(model)
	final, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("device picker: %w", err)
	}
	result, ok := final.(Model)
	if !ok || result.cancelled || !result.confirmed {
		return nil, deploy.ErrUserCancelled
	}
	selected := result.Selected()
	if len(selected) == 0 {
		return nil, deploy.ErrUserCancelled
	}
	return selected, nil
}

var _ deploy.InteractiveChooser = TerminalChooser{}
