package prompt

import "github.com/charmbracelet/lipgloss"

var (
	accent      = lipgloss.Color("#8BC34A")
	muted       = lipgloss.Color("#6B7280")
	destructive = lipgloss.Color("#e53935")
	info        = lipgloss.Color("#2196F3")
)

// Styles holds the lipgloss styles used by the prompts and status lines.
type Styles struct {
	Title       lipgloss.Style
	Label       lipgloss.Style
	Placeholder lipgloss.Style
	Hint        lipgloss.Style
	Error       lipgloss.Style

	Info    lipgloss.Style
	Success lipgloss.Style
	Fail    lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true),
		Label: lipgloss.NewStyle().
			Bold(true),
		Placeholder: lipgloss.NewStyle().
			Foreground(muted),
		Hint: lipgloss.NewStyle().
			Foreground(muted).
			Italic(true),
		Error: lipgloss.NewStyle().
			Foreground(destructive),

		Info: lipgloss.NewStyle().
			Foreground(info),
		Success: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true),
		Fail: lipgloss.NewStyle().
			Foreground(destructive).
			Bold(true),
	}
}
