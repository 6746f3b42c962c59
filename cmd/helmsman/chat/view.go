package chat

import (
	"fmt"
	"strings"
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder

	b.WriteString(m.styles.Header.Render(fmt.Sprintf("helmsman %s", m.version)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch {
	case m.inputMode == InputModeConfirm:
		b.WriteString(m.styles.Confirm.Render("Answer y or n"))
	case m.isLoading:
		b.WriteString(m.spinner.View() + m.styles.Muted.Render(" working... (ctrl+c to interrupt)"))
	default:
		b.WriteString(m.textinput.View())
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Footer.Render("ctrl+c quit · /quit exit"))
	return b.String()
}
