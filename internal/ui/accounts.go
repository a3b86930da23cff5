package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/safesign/internal/signing"
)

var (
	ErrCancelled       = errors.New("cancelled")
	ErrNothingToSelect = errors.New("no account available to sign with")
)

const directID = "direct"

// AccountItems lists the choices a view offers: direct signing (when the mode
// allows it) followed by the discovered Safes in registry order.
func AccountItems(v signing.View) []SelectorItem {
	var items []SelectorItem
	if v.CanSignDirect() {
		items = append(items, SelectorItem{
			ID:          directID,
			Label:       "Sign directly",
			Description: "as " + v.Address.Hex(),
			Current:     v.Selection.Kind == signing.KindDirect,
		})
	}
	if v.Mode != signing.ModeDirect {
		for _, addr := range v.Accounts {
			items = append(items, SelectorItem{
				ID:          addr.Hex(),
				Label:       "Safe " + addr.Hex(),
				Description: "owned by " + shortAddress(v.Address),
				Current:     v.Selection.Kind == signing.KindSafe && v.Selection.Safe == addr,
			})
		}
	}
	return items
}

// SelectionFromID maps a selector ID back to an account selection
func SelectionFromID(id string) (signing.Selection, error) {
	if id == directID {
		return signing.Selection{Kind: signing.KindDirect}, nil
	}
	if !common.IsHexAddress(id) {
		return signing.Selection{}, fmt.Errorf("unknown account %q", id)
	}
	return signing.Selection{Kind: signing.KindSafe, Safe: common.HexToAddress(id)}, nil
}

type pickerModel struct {
	selector *Selector
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	_, cmd := m.selector.Update(msg)
	if !m.selector.Active() {
		return m, tea.Quit
	}
	return m, cmd
}

func (m pickerModel) View() string { return m.selector.View() }

// PickAccount asks the user to choose between direct signing and the
// discovered Safes.
func PickAccount(v signing.View, opts ...tea.ProgramOption) (signing.Selection, error) {
	items := AccountItems(v)
	if len(items) == 0 {
		return signing.Selection{}, ErrNothingToSelect
	}

	sel := NewSelector("Sign with", items)
	if _, err := tea.NewProgram(pickerModel{selector: sel}, opts...).Run(); err != nil {
		return signing.Selection{}, err
	}
	if sel.Cancelled() {
		return signing.Selection{}, ErrCancelled
	}
	return SelectionFromID(sel.Selected())
}

type doneMsg struct{ err error }

type spinnerModel struct {
	title   string
	spinner spinner.Model
	run     func() error
	err     error
	done    bool
	cancel  context.CancelFunc
}

func (m *spinnerModel) Init() tea.Cmd {
	run := m.run
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return doneMsg{err: run()} })
}

func (m *spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancel()
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m *spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + HelpStyle.Render(m.title) + "\n"
}

// Spin shows a spinner titled title while fn runs. Ctrl+C cancels the
// context passed to fn.
func Spin(ctx context.Context, title string, fn func(ctx context.Context) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SelectorCursor

	m := &spinnerModel{
		title:   title,
		spinner: s,
		run:     func() error { return fn(ctx) },
		cancel:  cancel,
	}
	if _, err := tea.NewProgram(m, opts...).Run(); err != nil {
		return err
	}
	return m.err
}
