package types

import "context"

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================
// The control loop core talks to everything outside itself through these
// narrow interfaces. Concrete implementations live in internal/policy,
// internal/store, and cmd/helmsman/chat.

// Exchange is one worked example shown to the policy.
type Exchange struct {
	User      string
	Assistant string
}

// HistoryMessage is one prior conversation message passed to the policy.
type HistoryMessage struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// ProposeRequest carries everything the policy needs for one proposal call.
type ProposeRequest struct {
	SystemPrompt string
	Examples     []Exchange
	History      []HistoryMessage

	// Hints are correction messages from the previous dispatch
	// (unknown actions, parameter errors). Fed back verbatim.
	Hints []string

	// OneShot marks a reduced escalation call: the policy should produce
	// a single terminal action and nothing else.
	OneShot bool
}

// PolicyClient is the external LLM policy. It may return zero actions or
// malformed output; callers treat both as "no actions proposed".
type PolicyClient interface {
	Propose(ctx context.Context, req ProposeRequest) (*ActionBatch, error)
}

// ConversationSink receives user-visible output in dispatch order.
type ConversationSink interface {
	// Append adds one structured message for a non-terminal action outcome.
	Append(msg SinkMessage)

	// AppendText adds free text (respond/report bodies, escalations).
	AppendText(text string)
}

// Confirmer is the synchronous yes/no channel to the human operator.
// Confirm blocks until the human answers; this is acceptable for an
// interactive single-user session.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// SnapshotStore is the persistence collaborator. It consumes snapshots as
// plain data; the storage format is its own concern.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	LoadLatest(ctx context.Context, sessionID string) (*Snapshot, error)
}
