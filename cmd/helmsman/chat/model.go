// Package chat provides the interactive TUI for helmsman.
//
//   - model.go: model types and Init
//   - update.go: the Update loop and key handling
//   - view.go: rendering
//   - bridge.go: loop-to-UI plumbing (sink + confirmation channel)
//   - run.go: session wiring and program startup
package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"helmsman/internal/loop"
)

// InputMode represents the current input handling state.
type InputMode int

const (
	InputModeNormal  InputMode = iota // process as chat input
	InputModeConfirm                  // awaiting a yes/no answer
)

// Model is the main model for the interactive chat interface.
type Model struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    Styles
	renderer  *glamour.TermRenderer

	// Backend
	loop    *loop.ControlLoop
	bridge  *Bridge
	version string

	// State
	lines     []string
	isLoading bool
	width     int
	height    int
	ready     bool
	err       error

	inputMode      InputMode
	pendingConfirm *confirmRequestMsg

	inputHistory []string
	historyIndex int
}

// New creates the chat model.
func New(cl *loop.ControlLoop, bridge *Bridge, version string) Model {
	ti := textinput.New()
	ti.Placeholder = "Type an instruction..."
	ti.Focus()
	ti.CharLimit = 4096

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	m := Model{
		textinput: ti,
		spinner:   sp,
		styles:    DefaultStyles(),
		renderer:  renderer,
		loop:      cl,
		bridge:    bridge,
		version:   version,
	}
	m.spinner.Style = m.styles.Spinner
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// appendLine adds one line (possibly multi-line text) to the transcript
// and scrolls to the bottom.
func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if m.ready {
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()
	}
}

// renderMarkdown renders terminal free text through glamour, falling back
// to the raw text if rendering fails.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
