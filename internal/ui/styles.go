package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary   = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("35")  // Green
	ColorWarning   = lipgloss.Color("214") // Gold/yellow
	ColorError     = lipgloss.Color("196") // Red
	ColorDim       = lipgloss.Color("241") // Gray
	ColorAccent    = lipgloss.Color("39")  // Blue
	ColorHighlight = lipgloss.Color("212") // Light pink
)

const (
	SymbolBullet     = "●"
	SymbolTree       = "└"
	SymbolTreeBranch = "├"
	SymbolArrow      = "▸"
	SymbolCheck      = "✓"
	SymbolCross      = "✗"
	SymbolWarn       = "!"
)

var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	AddressStyle = lipgloss.NewStyle().
			Foreground(ColorAccent)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorDim).
			Width(12)

	SelectorCursor = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SelectorItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SelectorDim = lipgloss.NewStyle().
			Foreground(ColorDim)

	SelectorActive = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorDim)
)
