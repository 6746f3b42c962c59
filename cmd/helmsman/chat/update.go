package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"helmsman/internal/pacemaker"
	"helmsman/internal/types"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentHeight := msg.Height - 4 // header, input, footer
		if contentHeight < 1 {
			contentHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, contentHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = contentHeight
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case sinkEventMsg:
		m.appendLine(m.styleSink(msg.msg))
		return m, nil

	case sinkTextMsg:
		m.appendLine(m.renderMarkdown(msg.text))
		return m, nil

	case confirmRequestMsg:
		m.inputMode = InputModeConfirm
		m.pendingConfirm = &msg
		m.appendLine(m.styles.Confirm.Render("? " + msg.prompt + " [y/n]"))
		return m, nil

	case turnDoneMsg:
		m.isLoading = false
		m.err = msg.err
		if msg.err != nil {
			m.appendLine(m.styles.Error.Render("The assistant hit a problem; see the log for details."))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var tiCmd, vpCmd tea.Cmd
	m.textinput, tiCmd = m.textinput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, tiCmd, vpCmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.isLoading {
			// First interrupt stops the running turn; quitting still
			// works once the loop has yielded.
			m.loop.Interrupt()
			m.appendLine(m.styles.Warning.Render("Interrupting..."))
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		if m.inputMode == InputModeConfirm {
			return m, nil // require an explicit y or n
		}
		return m.submitInput()

	case tea.KeyUp:
		if m.inputMode == InputModeNormal && len(m.inputHistory) > 0 && m.historyIndex > 0 {
			m.historyIndex--
			m.textinput.SetValue(m.inputHistory[m.historyIndex])
			m.textinput.CursorEnd()
		}
		return m, nil

	case tea.KeyDown:
		if m.inputMode == InputModeNormal && m.historyIndex < len(m.inputHistory) {
			m.historyIndex++
			if m.historyIndex == len(m.inputHistory) {
				m.textinput.SetValue("")
			} else {
				m.textinput.SetValue(m.inputHistory[m.historyIndex])
				m.textinput.CursorEnd()
			}
		}
		return m, nil
	}

	if m.inputMode == InputModeConfirm {
		switch strings.ToLower(msg.String()) {
		case "y":
			return m.answerConfirm(true)
		case "n":
			return m.answerConfirm(false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.textinput, cmd = m.textinput.Update(msg)
	return m, cmd
}

func (m Model) answerConfirm(answer bool) (tea.Model, tea.Cmd) {
	if m.pendingConfirm != nil {
		m.pendingConfirm.reply <- answer
	}
	label := "no"
	if answer {
		label = "yes"
	}
	m.appendLine(m.styles.Muted.Render("> " + label))
	m.inputMode = InputModeNormal
	m.pendingConfirm = nil
	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" || m.isLoading {
		return m, nil
	}

	switch input {
	case "/quit", "/exit":
		return m, tea.Quit
	}

	m.textinput.SetValue("")
	m.inputHistory = append(m.inputHistory, input)
	m.historyIndex = len(m.inputHistory)

	m.appendLine(m.styles.UserInput.Render("you> ") + input)
	m.isLoading = true

	cl := m.loop
	turnCmd := func() tea.Msg {
		err := cl.HandleTurn(context.Background(), input, classifyTurn(input))
		return turnDoneMsg{err: err}
	}
	return m, tea.Batch(turnCmd, m.spinner.Tick, textinput.Blink)
}

// classifyTurn guesses the turn shape for budgeting. Short inputs and
// questions are treated as conversation; everything else gets the
// default working budget.
func classifyTurn(input string) pacemaker.TurnContext {
	if strings.HasSuffix(input, "?") || len(strings.Fields(input)) < 6 {
		return pacemaker.TurnContext{Conversational: true}
	}
	return pacemaker.TurnContext{}
}

// styleSink colors a structured sink message by status.
func (m *Model) styleSink(msg types.SinkMessage) string {
	line := msg.Render()
	switch msg.Status {
	case types.StatusError:
		return m.styles.Error.Render(line)
	case types.StatusDenied, types.StatusAborted:
		return m.styles.Warning.Render(line)
	default:
		return m.styles.Tool.Render(line)
	}
}
