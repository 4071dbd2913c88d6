package prompt

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type siteItem struct {
	index   int
	website string
}

func (i siteItem) Title() string       { return i.website }
func (i siteItem) Description() string { return fmt.Sprintf("#%d", i.index+1) }
func (i siteItem) FilterValue() string { return i.website }

// selectModel is a single-choice list. It quits on enter or on escape.
type selectModel struct {
	list     list.Model
	choice   int
	canceled bool
}

func newSelectModel(title string, sites []string, styles Styles) selectModel {
	items := make([]list.Item, len(sites))
	for i, s := range sites {
		items[i] = siteItem{index: i, website: s}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetSpacing(0)

	height := len(sites) + 6
	if height > 20 {
		height = 20
	}
	l := list.New(items, delegate, 40, height)
	l.Title = title
	l.Styles.Title = styles.Title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(len(sites) > 8)
	l.SetShowHelp(true)

	return selectModel{list: l, choice: -1}
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(siteItem); ok {
				m.choice = item.index
				return m, tea.Quit
			}
			return m, nil
		case "esc", "ctrl+c", "q":
			if m.list.FilterState() == list.FilterApplied && msg.String() == "esc" {
				break
			}
			m.canceled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selectModel) View() string {
	if m.choice >= 0 || m.canceled {
		return ""
	}
	return m.list.View()
}
