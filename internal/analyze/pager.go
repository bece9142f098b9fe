package analyze

import (
	"fmt"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

// pagerModel is a read-only scrollable view over a rendered report,
// simplified from src/internal/replay/pager.go's pagerModel: no search,
// no live reload, just scroll and quit.
type pagerModel struct {
	viewport viewport.Model
	content  string
	ready    bool
}

func newPagerModel(content string) pagerModel {
	return pagerModel{content: content}
}

func (m pagerModel) Init() tea.Cmd {
	return nil
}

func (m pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		}
	case tea.WindowSizeMsg:
		footerHeight := 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-footerHeight)
			m.viewport.SetContent(m.content)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - footerHeight
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m pagerModel) View() string {
	if !m.ready {
		return "\n  loading...\n"
	}
	footer := footerStyle.Render(fmt.Sprintf("  %3.f%%  q quit  g top  G bottom", m.viewport.ScrollPercent()*100))
	return m.viewport.View() + "\n" + footer
}

// RunInteractive renders stats and displays them in a scrollable terminal
// pager until the user quits.
func RunInteractive(stats *Stats) error {
	p := tea.NewProgram(newPagerModel(Render(stats)), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
