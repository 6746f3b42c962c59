// Package types provides shared type definitions used across helmsman packages.
// This package exists to break import cycles between pacemaker, dispatch, and loop.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// ACTIONS
// =============================================================================

// Action is a single tool invocation proposed by the policy collaborator.
// Actions are immutable once decoded; nothing downstream may mutate them.
type Action struct {
	// ID uniquely identifies this action instance (uuid, assigned on decode).
	ID string `json:"id,omitempty"`

	// Name is the tool name in the dispatch registry.
	Name string `json:"name"`

	// Parameters holds the tool arguments.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Rationale is the policy's stated reason for proposing this action.
	Rationale string `json:"rationale,omitempty"`
}

// Terminal action names. Executing any of these ends the current
// autonomous loop and returns control to the human.
const (
	ActionRespond  = "respond"
	ActionReport   = "report"
	ActionExit     = "exit"
	ActionEscalate = "escalate"
	ActionFinish   = "finish"
)

// ActionPlanProposal is exempt from stagnation detection: its parameters
// legitimately vary between otherwise identical proposals.
const ActionPlanProposal = "propose_plan"

var terminalActions = map[string]bool{
	ActionRespond:  true,
	ActionReport:   true,
	ActionExit:     true,
	ActionEscalate: true,
	ActionFinish:   true,
}

// IsTerminal reports whether executing this action returns control to the human.
func (a Action) IsTerminal() bool {
	return terminalActions[a.Name]
}

// Signature returns a deterministic identity for (name, parameters).
// encoding/json sorts map keys, so two parameter sets with equal contents
// always produce the same signature regardless of construction order.
func (a Action) Signature() string {
	raw, err := json.Marshal(a.Parameters)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", a.Parameters))
	}
	h := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%x", a.Name, h[:8])
}

// StringParam returns a string parameter by key, or "" if absent or not a string.
func (a Action) StringParam(key string) string {
	if a.Parameters == nil {
		return ""
	}
	s, _ := a.Parameters[key].(string)
	return s
}

// =============================================================================
// ACTION BATCHES
// =============================================================================

// ActionBatch is one policy turn's proposed actions plus rationale.
// Batches are discarded after dispatch.
type ActionBatch struct {
	// Actions in proposal order.
	Actions []Action `json:"actions"`

	// Rationale is the policy's overall reasoning for the batch.
	Rationale string `json:"rationale,omitempty"`

	// Scores holds the policy's self-reported assessment (safety,
	// confidence, alignment, completion). Advisory only; the dispatcher
	// consumes the safety entry, nothing else reads them.
	Scores map[string]float64 `json:"scores,omitempty"`
}

// SafetyScore returns the self-reported safety score and whether one was reported.
func (b *ActionBatch) SafetyScore() (float64, bool) {
	if b == nil || b.Scores == nil {
		return 0, false
	}
	s, ok := b.Scores["safety"]
	return s, ok
}

// Empty reports whether the batch proposes no actions at all.
func (b *ActionBatch) Empty() bool {
	return b == nil || len(b.Actions) == 0
}

// =============================================================================
// OUTCOMES
// =============================================================================

// OutcomeKind classifies how an executed action ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the tool ran and returned a result.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeError means the tool body failed.
	OutcomeError

	// OutcomeDenied means the human declined an approval-gated action.
	// Denials are penalized more lightly than genuine failures.
	OutcomeDenied
)

// String returns the wire name of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// =============================================================================
// CONVERSATION SINK MESSAGES
// =============================================================================

// SinkStatus is the status field of a structured sink message.
type SinkStatus string

const (
	StatusOK      SinkStatus = "ok"
	StatusError   SinkStatus = "error"
	StatusDenied  SinkStatus = "denied"
	StatusSkipped SinkStatus = "skipped"
	StatusAborted SinkStatus = "aborted"
)

// SinkMessage is one structured message appended to the conversation sink
// for a non-terminal action result, error, or denial. Terminal respond/report
// output is appended as free text instead.
type SinkMessage struct {
	Status SinkStatus
	Target string
	Body   string
}

// Render returns the single-line form shown in transcripts.
func (m SinkMessage) Render() string {
	if m.Target == "" {
		return fmt.Sprintf("[%s] %s", m.Status, m.Body)
	}
	return fmt.Sprintf("[%s] %s: %s", m.Status, m.Target, m.Body)
}

// =============================================================================
// SESSION SNAPSHOT
// =============================================================================

// Snapshot is the plain serializable state handed to the persistence
// collaborator at turn boundaries. The core does not define the storage format.
type Snapshot struct {
	SessionID  string    `json:"session_id"`
	Turn       int       `json:"turn"`
	Phase      string    `json:"phase"`
	LoopCount  int       `json:"loop_count"`
	Focus      float64   `json:"focus"`
	Confidence float64   `json:"confidence"`
	Stamina    float64   `json:"stamina"`
	TakenAt    time.Time `json:"taken_at"`
}
