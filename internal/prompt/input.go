package prompt

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// inputModel reads one line. An empty answer takes the default; an empty answer
// without a default is rejected when the field is required.
type inputModel struct {
	input    textinput.Model
	label    string
	def      string
	required bool
	styles   Styles

	value    string
	done     bool
	canceled bool
	errMsg   string
}

type inputOptions struct {
	label    string
	def      string
	password bool
	required bool
}

func newInputModel(opts inputOptions, styles Styles) inputModel {
	ti := textinput.New()
	ti.Prompt = "› "
	ti.CharLimit = 2048
	ti.Width = 60
	ti.PlaceholderStyle = styles.Placeholder
	if opts.def != "" {
		ti.Placeholder = opts.def
	}
	if opts.password {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
		if opts.def != "" {
			// Never echo a stored password.
			ti.Placeholder = "(stored)"
		}
	}
	ti.Focus()

	return inputModel{
		input:    ti,
		label:    opts.label,
		def:      opts.def,
		required: opts.required,
		styles:   styles,
	}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			v := strings.TrimSpace(m.input.Value())
			if v == "" {
				v = m.def
			}
			if v == "" && m.required {
				m.errMsg = m.label + " is required"
				return m, nil
			}
			m.value = v
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.canceled = true
			return m, tea.Quit
		}
		m.errMsg = ""
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done || m.canceled {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Label.Render(m.label))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.errMsg != "" {
		b.WriteString(m.styles.Error.Render(m.errMsg))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.Hint.Render("enter to confirm · esc to cancel"))
	b.WriteString("\n")
	return b.String()
}
