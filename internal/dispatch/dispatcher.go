package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helmsman/internal/approval"
	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the dispatcher's per-batch limits.
type Config struct {
	// MaxActionsPerBatch truncates oversized batches.
	MaxActionsPerBatch int

	// SafetyThreshold triggers the global interceptor: a self-reported
	// safety score strictly below this requires one human confirmation
	// before any action in the batch runs.
	SafetyThreshold float64

	// FailFastErrors aborts the remaining batch after this many
	// consecutive tool-execution errors.
	FailFastErrors int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxActionsPerBatch: 6,
		SafetyThreshold:    0.5,
		FailFastErrors:     2,
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// ActionStatus classifies how one action ended in a dispatch.
type ActionStatus string

const (
	StatusExecuted ActionStatus = "executed"
	StatusFailed   ActionStatus = "failed"
	StatusDenied   ActionStatus = "denied"
	StatusAborted  ActionStatus = "aborted"
)

// ActionResult is one action's outcome within a batch.
type ActionResult struct {
	Action   types.Action
	Status   ActionStatus
	Output   string
	Err      error
	Duration time.Duration
}

// Report is the ordered result of dispatching one batch.
type Report struct {
	// Results in execution order (non-terminals first, then terminals).
	Results []ActionResult

	// TerminalExecuted is true when at least one terminal action ran.
	TerminalExecuted bool

	// Dropped counts actions truncated by the per-batch quota.
	Dropped int

	// Hints are correction messages for the next policy call (unknown
	// actions, parameter errors, quota drops).
	Hints []string

	// Aborted is set when the batch stopped early; AbortReason says why.
	Aborted     bool
	AbortReason string
}

// =============================================================================
// DISPATCHER
// =============================================================================

// OutcomeRecorder receives every executed or denied action's outcome, in
// dispatch order. Implemented by the pacemaker.
type OutcomeRecorder interface {
	RecordOutcome(action types.Action, result string, kind types.OutcomeKind)
}

// Dispatcher executes action batches against the tool registry.
type Dispatcher struct {
	cfg       Config
	registry  *Registry
	gate      *approval.Gate
	recorder  OutcomeRecorder
	sink      types.ConversationSink
	confirmer types.Confirmer
}

// NewDispatcher wires a dispatcher. All collaborators are required except
// the gate, which defaults to the standard rules.
func NewDispatcher(cfg Config, registry *Registry, gate *approval.Gate,
	recorder OutcomeRecorder, sink types.ConversationSink, confirmer types.Confirmer) *Dispatcher {
	if cfg.MaxActionsPerBatch <= 0 {
		cfg = DefaultConfig()
	}
	if gate == nil {
		gate = approval.NewGate(nil)
	}
	return &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		gate:      gate,
		recorder:  recorder,
		sink:      sink,
		confirmer: confirmer,
	}
}

// Dispatch runs one batch through the pipeline: unknown-action filter,
// quota limiter, global safety interceptor, terminal reordering, gated
// per-action execution, and fail-fast abort.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *types.ActionBatch) *Report {
	report := &Report{}
	if batch.Empty() {
		return report
	}

	// 1. Drop actions whose name is not registered; they are never invoked.
	actions := d.filterUnknown(batch.Actions, report)

	// 2. Enforce the per-batch quota.
	if len(actions) > d.cfg.MaxActionsPerBatch {
		report.Dropped = len(actions) - d.cfg.MaxActionsPerBatch
		actions = actions[:d.cfg.MaxActionsPerBatch]
		hint := fmt.Sprintf("batch exceeded the %d-action quota; %d trailing actions were dropped",
			d.cfg.MaxActionsPerBatch, report.Dropped)
		report.Hints = append(report.Hints, hint)
		logging.Dispatch("quota applied: %d actions dropped", report.Dropped)
	}
	if len(actions) == 0 {
		return report
	}

	// 3. Global safety interceptor.
	if !d.passSafetyInterceptor(ctx, batch, report) {
		return report
	}

	// 4. Non-terminal actions first, then terminal, stable within each group.
	actions = reorderTerminalsLast(actions)

	// 5/6. Execute with approval gating and fail-fast.
	d.execute(ctx, actions, report)
	return report
}

// filterUnknown drops unregistered action names and records correction hints.
func (d *Dispatcher) filterUnknown(actions []types.Action, report *Report) []types.Action {
	known := make([]types.Action, 0, len(actions))
	for _, a := range actions {
		if d.registry.Has(a.Name) {
			known = append(known, a)
			continue
		}
		hint := fmt.Sprintf("action %q is not a registered tool; available tools: %s",
			a.Name, strings.Join(d.registry.Names(), ", "))
		report.Hints = append(report.Hints, hint)
		logging.Dispatch("filtered unknown action %q", a.Name)
	}
	return known
}

// passSafetyInterceptor asks for one global confirmation when the policy
// self-reported a low safety score. Refusal cancels the whole batch.
func (d *Dispatcher) passSafetyInterceptor(ctx context.Context, batch *types.ActionBatch, report *Report) bool {
	score, ok := batch.SafetyScore()
	if !ok || score >= d.cfg.SafetyThreshold {
		return true
	}

	prompt := fmt.Sprintf("The assistant rated this step's safety at %.2f (below %.2f). Run %d proposed action(s) anyway?",
		score, d.cfg.SafetyThreshold, len(batch.Actions))
	confirmed, err := d.confirmer.Confirm(ctx, prompt)
	if err != nil || !confirmed {
		report.Aborted = true
		report.AbortReason = fmt.Sprintf("batch cancelled: operator declined low-safety batch (score %.2f)", score)
		d.sink.Append(types.SinkMessage{Status: types.StatusAborted, Body: report.AbortReason})
		logging.Dispatch("safety interceptor cancelled batch (score=%.2f)", score)
		return false
	}
	return true
}

// reorderTerminalsLast partitions the batch so that every terminal action
// executes after every non-terminal one, preserving relative order within
// each partition.
func reorderTerminalsLast(actions []types.Action) []types.Action {
	ordered := make([]types.Action, 0, len(actions))
	var terminals []types.Action
	for _, a := range actions {
		if a.IsTerminal() {
			terminals = append(terminals, a)
		} else {
			ordered = append(ordered, a)
		}
	}
	return append(ordered, terminals...)
}

func (d *Dispatcher) execute(ctx context.Context, actions []types.Action, report *Report) {
	consecutiveFailures := 0

	for i, a := range actions {
		// Fail-fast: abort everything left in the batch.
		if consecutiveFailures >= d.cfg.FailFastErrors {
			report.Aborted = true
			report.AbortReason = fmt.Sprintf("%d consecutive tool errors; %d remaining action(s) aborted",
				consecutiveFailures, len(actions)-i)
			d.sink.Append(types.SinkMessage{Status: types.StatusAborted, Body: report.AbortReason})
			for _, rest := range actions[i:] {
				report.Results = append(report.Results, ActionResult{Action: rest, Status: StatusAborted})
			}
			logging.Dispatch("fail-fast abort: %s", report.AbortReason)
			return
		}

		res := d.runOne(ctx, a)
		report.Results = append(report.Results, res)

		switch res.Status {
		case StatusExecuted:
			consecutiveFailures = 0
			if a.IsTerminal() {
				report.TerminalExecuted = true
			}
		case StatusFailed:
			consecutiveFailures++
			if errors.Is(res.Err, ErrInvalidParams) {
				report.Hints = append(report.Hints,
					fmt.Sprintf("action %q failed with bad arguments: %v", a.Name, res.Err))
			}
		case StatusDenied:
			// Non-fatal; neither advances nor resets the failure streak.
		}
	}
}

// runOne gates and executes a single action and reports its outcome.
func (d *Dispatcher) runOne(ctx context.Context, a types.Action) ActionResult {
	if decision := d.gate.Check(a); decision.Required {
		confirmed, err := d.confirmer.Confirm(ctx, decision.Prompt)
		if err != nil || !confirmed {
			body := fmt.Sprintf("%s was not run: the operator declined", a.Name)
			d.sink.Append(types.SinkMessage{Status: types.StatusDenied, Target: a.Name, Body: body})
			d.recorder.RecordOutcome(a, body, types.OutcomeDenied)
			return ActionResult{Action: a, Status: StatusDenied, Output: body}
		}
	}

	start := time.Now()
	output, err := d.registry.Invoke(ctx, a.Name, a.Parameters)
	elapsed := time.Since(start)

	if err != nil {
		body := fmt.Sprintf("%s failed: %v", a.Name, err)
		d.sink.Append(types.SinkMessage{Status: types.StatusError, Target: a.Name, Body: body})
		d.recorder.RecordOutcome(a, body, types.OutcomeError)
		return ActionResult{Action: a, Status: StatusFailed, Output: output, Err: err, Duration: elapsed}
	}

	d.emit(a, output)
	d.recorder.RecordOutcome(a, output, types.OutcomeSuccess)
	return ActionResult{Action: a, Status: StatusExecuted, Output: output, Duration: elapsed}
}

// emit routes a successful result to the conversation sink. Terminal
// output is free text; everything else gets the structured wrapper.
func (d *Dispatcher) emit(a types.Action, output string) {
	if a.IsTerminal() {
		if output != "" {
			d.sink.AppendText(output)
		}
		return
	}
	d.sink.Append(types.SinkMessage{Status: types.StatusOK, Target: a.Name, Body: output})
}
