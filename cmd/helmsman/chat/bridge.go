package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"helmsman/internal/types"
)

// =============================================================================
// UI BRIDGE
// =============================================================================
// The control loop runs in its own goroutine and talks to the bubbletea
// program through messages. The bridge implements the loop's two UI-facing
// collaborators: the conversation sink (fire-and-forget messages) and the
// confirmation channel (a blocking request/reply pair).

// sinkEventMsg carries one structured sink message into the Update loop.
type sinkEventMsg struct {
	msg types.SinkMessage
}

// sinkTextMsg carries terminal free text (respond/report bodies).
type sinkTextMsg struct {
	text string
}

// confirmRequestMsg asks the operator a yes/no question. The loop
// goroutine blocks on reply until Update captures an answer.
type confirmRequestMsg struct {
	prompt string
	reply  chan bool
}

// turnDoneMsg signals that HandleTurn returned.
type turnDoneMsg struct {
	err error
}

// Bridge forwards loop output into a running bubbletea program.
type Bridge struct {
	mu      sync.Mutex
	program *tea.Program
}

// NewBridge creates a bridge with no program attached. Sends before
// Attach are dropped; the loop only runs once the program is up.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach binds the running program.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.program
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Append implements types.ConversationSink.
func (b *Bridge) Append(msg types.SinkMessage) {
	b.send(sinkEventMsg{msg: msg})
}

// AppendText implements types.ConversationSink.
func (b *Bridge) AppendText(text string) {
	b.send(sinkTextMsg{text: text})
}

// Confirm implements types.Confirmer. It blocks the loop goroutine until
// the operator answers in the TUI or the context is cancelled.
func (b *Bridge) Confirm(ctx context.Context, prompt string) (bool, error) {
	reply := make(chan bool, 1)
	b.send(confirmRequestMsg{prompt: prompt, reply: reply})

	select {
	case answer := <-reply:
		return answer, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
