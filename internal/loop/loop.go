// Package loop implements the per-turn control loop: the outer driver
// that resets the pacemaker, computes the turn budget, and alternates
// policy proposals with dispatches until a terminal action runs, the
// policy goes quiet, or the pacemaker forces an escalation.
package loop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"helmsman/internal/dispatch"
	"helmsman/internal/logging"
	"helmsman/internal/pacemaker"
	"helmsman/internal/tools"
	"helmsman/internal/types"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the control loop's coarse state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseAwaitingUser Phase = "awaiting_user"
	PhaseThinking     Phase = "thinking"
	PhaseExecuting    Phase = "executing"
)

// =============================================================================
// CONTROL LOOP
// =============================================================================

// Config holds the loop's session-level settings.
type Config struct {
	SessionID    string
	SystemPrompt string
	Examples     []types.Exchange

	// TranscriptLimit bounds the conversation history passed to the
	// policy. Oldest messages are dropped first.
	TranscriptLimit int
}

// DefaultConfig returns production defaults.
func DefaultConfig(sessionID string) Config {
	return Config{
		SessionID:       sessionID,
		TranscriptLimit: 40,
	}
}

// ControlLoop owns one session's pacemaker and drives turns to completion.
// It is single-threaded by design: at most one policy call and one dispatch
// are in flight at a time, so actions always execute in a predictable order
// relative to confirmation prompts.
type ControlLoop struct {
	mu         sync.Mutex
	cfg        Config
	phase      Phase
	turn       int
	transcript []types.HistoryMessage

	pm         *pacemaker.Pacemaker
	policy     types.PolicyClient
	dispatcher *dispatch.Dispatcher
	sink       types.ConversationSink
	store      types.SnapshotStore // optional

	interrupted bool
	planSteps   int
}

// New creates a control loop. store may be nil for ephemeral sessions.
func New(cfg Config, pm *pacemaker.Pacemaker, policy types.PolicyClient,
	dispatcher *dispatch.Dispatcher, sink types.ConversationSink, store types.SnapshotStore) *ControlLoop {
	if cfg.TranscriptLimit <= 0 {
		cfg.TranscriptLimit = 40
	}
	return &ControlLoop{
		cfg:        cfg,
		phase:      PhaseIdle,
		pm:         pm,
		policy:     policy,
		dispatcher: dispatcher,
		sink:       sink,
		store:      store,
	}
}

// Phase returns the current phase.
func (cl *ControlLoop) Phase() Phase {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.phase
}

// Turn returns the completed turn count.
func (cl *ControlLoop) Turn() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.turn
}

// Interrupt requests that the running turn stop after the current
// dispatch. The next loop iteration maps it to a forced exit action.
func (cl *ControlLoop) Interrupt() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.interrupted = true
	logging.Loop("interrupt requested")
}

// Restore seeds the pacemaker from the latest stored snapshot, if any.
// Called once on boot for resumed sessions.
func (cl *ControlLoop) Restore(ctx context.Context) error {
	if cl.store == nil {
		return nil
	}
	snap, err := cl.store.LoadLatest(ctx, cl.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if snap == nil {
		return nil
	}

	cl.mu.Lock()
	cl.turn = snap.Turn
	cl.mu.Unlock()

	cl.pm.RestoreVitals(snap.Focus, snap.Confidence, snap.Stamina)
	logging.Session("restored session %s at turn %d", cl.cfg.SessionID, snap.Turn)
	return nil
}

// HandleTurn runs one user turn to completion. It blocks until a terminal
// action executes, the policy proposes nothing, or the pacemaker escalates.
func (cl *ControlLoop) HandleTurn(ctx context.Context, userInput string, tc pacemaker.TurnContext) error {
	cl.setPhase(PhaseThinking)
	defer cl.setPhase(PhaseAwaitingUser)

	// Turn boundary: counters reset, vitals partially recover.
	cl.pm.Reset()
	budget := cl.pm.ComputeBudget(cl.applyPlan(tc))
	logging.Loop("turn started: budget=%d", budget)

	cl.appendTranscript("user", userInput)

	var hints []string
	for {
		loopCount, maxLoops := cl.pm.BeginLoop()
		logging.LoopDebug("iteration %d/%d", loopCount, maxLoops)

		if cl.takeInterrupt() {
			cl.runForcedExit(ctx)
			break
		}

		if reason := cl.pm.CheckHealth(); reason != nil {
			cl.escalate(ctx, *reason)
			break
		}

		batch, err := cl.policy.Propose(ctx, types.ProposeRequest{
			SystemPrompt: cl.cfg.SystemPrompt,
			Examples:     cl.cfg.Examples,
			History:      cl.transcriptCopy(),
			Hints:        hints,
		})
		if err != nil {
			cl.sink.Append(types.SinkMessage{
				Status: types.StatusError,
				Target: "policy",
				Body:   "The assistant is unreachable. Please try again.",
			})
			cl.finishTurn(ctx)
			return fmt.Errorf("policy call failed: %w", err)
		}

		if batch.Empty() {
			logging.Loop("policy proposed no actions; yielding to user")
			break
		}

		cl.setPhase(PhaseExecuting)
		report := cl.dispatcher.Dispatch(ctx, batch)
		cl.setPhase(PhaseThinking)

		hints = mergeHints(hints, report.Hints)
		cl.notePlan(report)
		cl.appendTranscript("assistant", summarizeDispatch(batch, report))

		if report.TerminalExecuted {
			break
		}
		if report.Aborted && len(report.Results) == 0 {
			// Operator declined the batch outright; hand control back.
			break
		}
	}

	cl.finishTurn(ctx)
	return nil
}

// escalate runs one reduced policy call asking for a single terminal
// action; if that fails or yields nothing terminal, the pacemaker's own
// synthesized escalation action is dispatched instead.
func (cl *ControlLoop) escalate(ctx context.Context, reason pacemaker.InterventionReason) {
	logging.Loop("escalating: %s", reason)

	hint := fmt.Sprintf("Intervention required (%s): %s", reason.Code, reason.Detail)
	batch, err := cl.policy.Propose(ctx, types.ProposeRequest{
		SystemPrompt: cl.cfg.SystemPrompt,
		History:      cl.transcriptCopy(),
		Hints:        []string{hint},
		OneShot:      true,
	})

	if err != nil || !oneTerminal(batch) {
		if err != nil {
			logging.Loop("escalation policy call failed, synthesizing directly: %v", err)
		}
		action := cl.pm.Intervene(reason, cl.pm.HistorySummary(5))
		batch = &types.ActionBatch{Actions: []types.Action{action}}
	}

	cl.setPhase(PhaseExecuting)
	report := cl.dispatcher.Dispatch(ctx, batch)
	cl.setPhase(PhaseThinking)
	cl.appendTranscript("assistant", summarizeDispatch(batch, report))
}

// runForcedExit maps an external interrupt onto a terminal exit action so
// the shutdown path is the same as any other turn ending.
func (cl *ControlLoop) runForcedExit(ctx context.Context) {
	batch := &types.ActionBatch{Actions: []types.Action{{
		Name:       types.ActionExit,
		Parameters: map[string]any{"message": "Interrupted. Stopping here."},
	}}}
	cl.dispatcher.Dispatch(ctx, batch)
}

// finishTurn advances the turn counter and persists a snapshot.
func (cl *ControlLoop) finishTurn(ctx context.Context) {
	cl.mu.Lock()
	cl.turn++
	turn := cl.turn
	cl.mu.Unlock()

	if cl.store == nil {
		return
	}

	focus, confidence, stamina := cl.pm.VitalsSnapshot()
	snap := types.Snapshot{
		SessionID:  cl.cfg.SessionID,
		Turn:       turn,
		Phase:      string(PhaseAwaitingUser),
		LoopCount:  cl.pm.LoopCount(),
		Focus:      focus,
		Confidence: confidence,
		Stamina:    stamina,
		TakenAt:    time.Now().UTC(),
	}
	if err := cl.store.Save(ctx, snap); err != nil {
		logging.Session("snapshot save failed: %v", err)
	}
}

func (cl *ControlLoop) setPhase(p Phase) {
	cl.mu.Lock()
	cl.phase = p
	cl.mu.Unlock()
}

func (cl *ControlLoop) takeInterrupt() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if !cl.interrupted {
		return false
	}
	cl.interrupted = false
	return true
}

func (cl *ControlLoop) appendTranscript(role, content string) {
	if content == "" {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.transcript = append(cl.transcript, types.HistoryMessage{Role: role, Content: content})
	if over := len(cl.transcript) - cl.cfg.TranscriptLimit; over > 0 {
		cl.transcript = cl.transcript[over:]
	}
}

func (cl *ControlLoop) transcriptCopy() []types.HistoryMessage {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]types.HistoryMessage, len(cl.transcript))
	copy(out, cl.transcript)
	return out
}

// oneTerminal reports whether the batch is exactly one terminal action,
// the only shape accepted from a reduced escalation call.
func oneTerminal(batch *types.ActionBatch) bool {
	return batch != nil && len(batch.Actions) == 1 && batch.Actions[0].IsTerminal()
}

// applyPlan folds the recorded plan into the turn shape so an active
// plan widens the loop budget on the turns that execute it.
func (cl *ControlLoop) applyPlan(tc pacemaker.TurnContext) pacemaker.TurnContext {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.planSteps > 0 && !tc.Conversational {
		tc.HasPlan = true
		if tc.PendingTasks < cl.planSteps {
			tc.PendingTasks = cl.planSteps
		}
	}
	return tc
}

// notePlan tracks the plan lifecycle from executed actions: a plan
// proposal opens (or replaces) the active plan, finish closes it.
func (cl *ControlLoop) notePlan(report *dispatch.Report) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, res := range report.Results {
		if res.Status != dispatch.StatusExecuted {
			continue
		}
		switch res.Action.Name {
		case types.ActionPlanProposal:
			if n := len(tools.PlanSteps(res.Action.Parameters)); n > 0 {
				cl.planSteps = n
			} else {
				cl.planSteps = 1
			}
		case types.ActionFinish:
			cl.planSteps = 0
		}
	}
}

// mergeHints accumulates correction hints across a turn's iterations
// without repeating ones the policy has already been told about.
func mergeHints(acc, next []string) []string {
	seen := make(map[string]bool, len(acc))
	for _, h := range acc {
		seen[h] = true
	}
	for _, h := range next {
		if !seen[h] {
			acc = append(acc, h)
			seen[h] = true
		}
	}
	return acc
}

// truncate bounds s to limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}

// summarizeDispatch renders an executed batch into one transcript line
// per action so the policy sees what its last proposal actually did.
func summarizeDispatch(batch *types.ActionBatch, report *dispatch.Report) string {
	var b strings.Builder
	if batch.Rationale != "" {
		fmt.Fprintf(&b, "%s\n", batch.Rationale)
	}
	for _, res := range report.Results {
		fmt.Fprintf(&b, "[%s] %s: %s\n", res.Status, res.Action.Name, truncate(res.Output, 120))
	}
	if report.AbortReason != "" {
		fmt.Fprintf(&b, "(aborted: %s)\n", report.AbortReason)
	}
	return strings.TrimRight(b.String(), "\n")
}
