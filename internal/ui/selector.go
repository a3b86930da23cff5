package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// SelectorItem represents an item in the selector
type SelectorItem struct {
	ID          string
	Label       string
	Description string
	Current     bool
}

type selectorKeys struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Cancel key.Binding
}

var defaultSelectorKeys = selectorKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Select: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	Cancel: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc", "cancel")),
}

// Selector is an interactive list selector
type Selector struct {
	title    string
	items    []SelectorItem
	keys     selectorKeys
	cursor   int
	selected int
	active   bool
	width    int
}

// NewSelector creates a new selector
func NewSelector(title string, items []SelectorItem) *Selector {
	// Start on the current item, if any
	selected := 0
	for i, item := range items {
		if item.Current {
			selected = i
			break
		}
	}

	return &Selector{
		title:    title,
		items:    items,
		keys:     defaultSelectorKeys,
		cursor:   selected,
		selected: selected,
		active:   true,
		width:    80,
	}
}

// Active returns whether the selector is still waiting for input
func (s *Selector) Active() bool {
	return s.active
}

// Selected returns the selected item ID, or empty if cancelled
func (s *Selector) Selected() string {
	if s.selected >= 0 && s.selected < len(s.items) {
		return s.items[s.selected].ID
	}
	return ""
}

// Cancelled returns whether the selector was cancelled
func (s *Selector) Cancelled() bool {
	return !s.active && s.selected == -1
}

// Update handles selector input
func (s *Selector) Update(msg tea.Msg) (*Selector, tea.Cmd) {
	if !s.active {
		return s, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, s.keys.Up):
			if s.cursor > 0 {
				s.cursor--
			}
		case key.Matches(msg, s.keys.Down):
			if s.cursor < len(s.items)-1 {
				s.cursor++
			}
		case key.Matches(msg, s.keys.Select):
			s.selected = s.cursor
			s.active = false
		case key.Matches(msg, s.keys.Cancel):
			s.selected = -1
			s.active = false
		}
	}

	return s, nil
}

// View renders the selector
func (s *Selector) View() string {
	if !s.active {
		return ""
	}

	var b strings.Builder

	help := []string{}
	for _, k := range []key.Binding{s.keys.Up, s.keys.Down, s.keys.Select, s.keys.Cancel} {
		help = append(help, k.Help().Key+" "+k.Help().Desc)
	}
	b.WriteString(TitleStyle.Render(s.title))
	b.WriteString(" ")
	b.WriteString(HelpStyle.Render("(" + strings.Join(help, ", ") + ")"))
	b.WriteString("\n\n")

	labelWidth := 44
	if s.width > 0 && s.width < 60 {
		labelWidth = s.width / 2
	}

	for i, item := range s.items {
		isCursor := i == s.cursor

		if isCursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " ")
		} else {
			b.WriteString("  ")
		}

		display := item.Label
		if display == "" {
			display = item.ID
		}
		label := fmt.Sprintf("%-*s", labelWidth, display)
		if isCursor {
			b.WriteString(SelectorActive.Render(label))
		} else {
			b.WriteString(SelectorItemStyle.Render(label))
		}

		if item.Description != "" {
			desc := item.Description
			if item.Current {
				desc += " (current)"
			}
			b.WriteString(SelectorDim.Render(desc))
		}

		b.WriteString("\n")
	}

	return b.String()
}
