package chat

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorPrimary = lipgloss.Color("#5F87FF")
	colorAccent  = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#6c7689")
	colorError   = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
)

// Styles holds the lipgloss styles for the chat view.
type Styles struct {
	Header    lipgloss.Style
	Footer    lipgloss.Style
	UserInput lipgloss.Style
	Agent     lipgloss.Style
	Tool      lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Muted     lipgloss.Style
	Confirm   lipgloss.Style
	Spinner   lipgloss.Style
}

// DefaultStyles returns the standard chat styling.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1),

		Footer: lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1),

		UserInput: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),

		Agent: lipgloss.NewStyle(),

		Tool: lipgloss.NewStyle().
			Foreground(colorMuted),

		Error: lipgloss.NewStyle().
			Foreground(colorError),

		Warning: lipgloss.NewStyle().
			Foreground(colorWarning),

		Muted: lipgloss.NewStyle().
			Foreground(colorMuted),

		Confirm: lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true),

		Spinner: lipgloss.NewStyle().
			Foreground(colorPrimary),
	}
}
