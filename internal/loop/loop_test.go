package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"helmsman/internal/dispatch"
	"helmsman/internal/pacemaker"
	"helmsman/internal/tools"
	"helmsman/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

type scriptedPolicy struct {
	mu       sync.Mutex
	batches  []*types.ActionBatch // popped per non-oneshot call
	oneShot  *types.ActionBatch   // returned for oneshot calls
	errs     []error
	requests []types.ProposeRequest
}

func (p *scriptedPolicy) Propose(ctx context.Context, req types.ProposeRequest) (*types.ActionBatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if req.OneShot {
		if p.oneShot == nil {
			return &types.ActionBatch{}, nil
		}
		return p.oneShot, nil
	}

	if len(p.batches) == 0 {
		return &types.ActionBatch{}, nil
	}
	batch := p.batches[0]
	p.batches = p.batches[1:]
	return batch, nil
}

func (p *scriptedPolicy) calls() []types.ProposeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ProposeRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

type memorySink struct {
	mu       sync.Mutex
	messages []types.SinkMessage
	texts    []string
}

func (s *memorySink) Append(msg types.SinkMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *memorySink) AppendText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
}

func (s *memorySink) allText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.texts, "\n")
}

type yesConfirmer struct{}

func (yesConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) { return true, nil }

type memoryStore struct {
	mu     sync.Mutex
	saved  []types.Snapshot
	latest *types.Snapshot
}

func (s *memoryStore) Save(ctx context.Context, snap types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	return nil
}

func (s *memoryStore) LoadLatest(ctx context.Context, sessionID string) (*types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	loop   *ControlLoop
	pm     *pacemaker.Pacemaker
	policy *scriptedPolicy
	sink   *memorySink
	store  *memoryStore
}

func newHarness(t *testing.T, pmCfg pacemaker.Config) *harness {
	t.Helper()

	registry := dispatch.NewRegistry()
	require.NoError(t, tools.RegisterAll(registry))
	registry.MustRegister(dispatch.NewSyncTool("work", "", func(ctx context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("done %v", args["step"]), nil
	}))
	registry.MustRegister(dispatch.NewSyncTool("fail", "", func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("boom")
	}))

	h := &harness{
		pm:     pacemaker.New(pmCfg),
		policy: &scriptedPolicy{},
		sink:   &memorySink{},
		store:  &memoryStore{},
	}
	dispatcher := dispatch.NewDispatcher(dispatch.DefaultConfig(), registry, nil, h.pm, h.sink, yesConfirmer{})
	h.loop = New(DefaultConfig("test-session"), h.pm, h.policy, dispatcher, h.sink, h.store)
	return h
}

func workAction(step int) types.Action {
	return types.Action{Name: "work", Parameters: map[string]any{"step": step}}
}

func respondBatch(msg string) *types.ActionBatch {
	return &types.ActionBatch{Actions: []types.Action{
		{Name: types.ActionRespond, Parameters: map[string]any{"message": msg}},
	}}
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

func TestTurnEndsOnTerminalAction(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{workAction(1), {Name: types.ActionRespond, Parameters: map[string]any{"message": "all set"}}}},
	}

	err := h.loop.HandleTurn(context.Background(), "do the thing", pacemaker.TurnContext{})
	require.NoError(t, err)

	assert.Equal(t, PhaseAwaitingUser, h.loop.Phase())
	assert.Len(t, h.policy.calls(), 1)
	assert.Contains(t, h.sink.allText(), "all set")
	assert.Equal(t, 1, h.loop.Turn())
}

func TestTurnEndsWhenPolicyGoesQuiet(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	// No scripted batches: the policy proposes nothing.

	err := h.loop.HandleTurn(context.Background(), "hello", pacemaker.TurnContext{Conversational: true})
	require.NoError(t, err)

	assert.Len(t, h.policy.calls(), 1)
	assert.Equal(t, PhaseAwaitingUser, h.loop.Phase())
}

func TestPolicyTransportErrorSurfacesAndYields(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.errs = []error{errors.New("connection refused")}

	err := h.loop.HandleTurn(context.Background(), "hello", pacemaker.TurnContext{})
	require.Error(t, err)

	require.Len(t, h.sink.messages, 1)
	assert.Equal(t, types.StatusError, h.sink.messages[0].Status)
	// Internal detail is logged, not shown.
	assert.NotContains(t, h.sink.messages[0].Body, "connection refused")
}

func TestSnapshotSavedPerTurn(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{respondBatch("ok")}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "hi", pacemaker.TurnContext{Conversational: true}))

	require.Len(t, h.store.saved, 1)
	snap := h.store.saved[0]
	assert.Equal(t, "test-session", snap.SessionID)
	assert.Equal(t, 1, snap.Turn)
	assert.Equal(t, string(PhaseAwaitingUser), snap.Phase)
	assert.InDelta(t, 1.0, snap.Stamina, 0.1)
}

func TestRestoreSeedsVitalsAndTurn(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.store.latest = &types.Snapshot{
		SessionID: "test-session", Turn: 4, Focus: 0.5, Confidence: 0.6, Stamina: 0.7,
	}

	require.NoError(t, h.loop.Restore(context.Background()))

	assert.Equal(t, 4, h.loop.Turn())
	focus, confidence, stamina := h.pm.VitalsSnapshot()
	assert.InDelta(t, 0.5, focus, 1e-9)
	assert.InDelta(t, 0.6, confidence, 1e-9)
	assert.InDelta(t, 0.7, stamina, 1e-9)
}

// =============================================================================
// ESCALATION
// =============================================================================

func exhaustionConfig() pacemaker.Config {
	cfg := pacemaker.DefaultConfig()
	cfg.MinLoops = 1
	cfg.ConversationBudget = 2
	return cfg
}

func TestExhaustionEscalatesViaOneShotPolicy(t *testing.T) {
	h := newHarness(t, exhaustionConfig())
	// The policy never proposes a terminal action on its own.
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{workAction(1)}},
		{Actions: []types.Action{workAction(2)}},
	}
	h.policy.oneShot = respondBatch("I've hit my budget for this; here is where things stand.")

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{Conversational: true}))

	calls := h.policy.calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.True(t, last.OneShot, "escalation must use a reduced one-shot call")
	require.Len(t, last.Hints, 1)
	assert.Contains(t, last.Hints[0], "LOOP_EXHAUSTED")
	assert.Contains(t, h.sink.allText(), "budget")
}

func TestEscalationFallsBackToSynthesizedAction(t *testing.T) {
	h := newHarness(t, exhaustionConfig())
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{workAction(1)}},
	}
	// The one-shot call returns nothing usable.
	h.policy.oneShot = &types.ActionBatch{}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{Conversational: true}))

	// The synthesized escalate action rendered its diagnosis to the sink.
	text := h.sink.allText()
	assert.Contains(t, text, "LOOP_EXHAUSTED")
	assert.Contains(t, text, "How would you like me to proceed?")
}

func TestCascadeEscalates(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	// Each batch fails once; after three turns of the inner loop the
	// pacemaker sees three consecutive errors.
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{{Name: "fail", Parameters: map[string]any{"n": 1}}}},
		{Actions: []types.Action{{Name: "fail", Parameters: map[string]any{"n": 2}}}},
		{Actions: []types.Action{{Name: "fail", Parameters: map[string]any{"n": 3}}}},
	}
	h.policy.oneShot = respondBatch("Something is consistently failing; I need direction.")

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{}))

	calls := h.policy.calls()
	last := calls[len(calls)-1]
	require.True(t, last.OneShot)
	assert.Contains(t, last.Hints[0], "ERROR_CASCADE")
}

// =============================================================================
// INTERRUPT AND HINTS
// =============================================================================

func TestInterruptForcesExit(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{respondBatch("never reached")}

	h.loop.Interrupt()
	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{}))

	assert.Empty(t, h.policy.calls(), "interrupt preempts the policy call")
	assert.Contains(t, h.sink.allText(), "Interrupted")
}

func TestCorrectionHintsFeedNextProposal(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{{Name: "bogus_tool", Parameters: map[string]any{"x": 1}}, workAction(1)}},
		respondBatch("corrected"),
	}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{}))

	calls := h.policy.calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].Hints)
	require.NotEmpty(t, calls[1].Hints)
	assert.Contains(t, calls[1].Hints[0], "bogus_tool")
}

func TestTranscriptCarriesDispatchSummary(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{workAction(1)}, Rationale: "first step"},
		respondBatch("done"),
	}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{}))

	calls := h.policy.calls()
	require.Len(t, calls, 2)
	history := calls[1].History
	require.NotEmpty(t, history)
	lastMsg := history[len(history)-1]
	assert.Equal(t, "assistant", lastMsg.Role)
	assert.Contains(t, lastMsg.Content, "work")
	assert.Contains(t, lastMsg.Content, "first step")
}

func TestCorrectionHintsAccumulateWithinTurn(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		{Actions: []types.Action{{Name: "bogus_one"}, workAction(1)}},
		{Actions: []types.Action{{Name: "bogus_two"}, workAction(2)}},
		respondBatch("corrected"),
	}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{}))

	calls := h.policy.calls()
	require.Len(t, calls, 3)
	// The third proposal still sees the first iteration's correction.
	joined := strings.Join(calls[2].Hints, "\n")
	assert.Contains(t, joined, "bogus_one")
	assert.Contains(t, joined, "bogus_two")
}

func TestMergeHintsDeduplicates(t *testing.T) {
	acc := mergeHints(nil, []string{"a", "b"})
	acc = mergeHints(acc, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, acc)
}

func TestDispatchSummaryTruncatesOnRuneBoundary(t *testing.T) {
	batch := &types.ActionBatch{Actions: []types.Action{workAction(1)}}
	report := &dispatch.Report{Results: []dispatch.ActionResult{{
		Action: workAction(1),
		Status: dispatch.StatusExecuted,
		Output: strings.Repeat("日本語", 100),
	}}}

	summary := summarizeDispatch(batch, report)
	assert.True(t, utf8.ValidString(summary), "summary contains a split rune: %q", summary)
	assert.Contains(t, summary, "...")
}

// =============================================================================
// PLAN TRACKING
// =============================================================================

func planBatch(steps ...string) *types.ActionBatch {
	raw := make([]any, len(steps))
	for i, s := range steps {
		raw[i] = s
	}
	return &types.ActionBatch{Actions: []types.Action{
		{Name: types.ActionPlanProposal, Parameters: map[string]any{"steps": raw}},
	}}
}

func TestExecutedPlanReachesTranscriptAndNextProposal(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		planBatch("inspect the config", "run the suite"),
		respondBatch("planned"),
	}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "fix the build", pacemaker.TurnContext{}))

	calls := h.policy.calls()
	require.Len(t, calls, 2)
	// The plan action executed instead of being filtered as unknown.
	assert.Empty(t, calls[1].Hints)
	history := calls[1].History
	require.NotEmpty(t, history)
	assert.Contains(t, history[len(history)-1].Content, "Plan recorded (2 steps)")
}

func TestActivePlanWidensTurnShape(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		planBatch("a", "b", "c", "d", "e", "f"),
		respondBatch("planned"),
	}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "big job", pacemaker.TurnContext{}))

	tc := h.loop.applyPlan(pacemaker.TurnContext{})
	assert.True(t, tc.HasPlan)
	assert.Equal(t, 6, tc.PendingTasks)

	// Chat turns keep the conversational budget even mid-plan.
	conv := h.loop.applyPlan(pacemaker.TurnContext{Conversational: true})
	assert.False(t, conv.HasPlan)
	assert.Zero(t, conv.PendingTasks)
}

func TestFinishClosesActivePlan(t *testing.T) {
	h := newHarness(t, pacemaker.DefaultConfig())
	h.policy.batches = []*types.ActionBatch{
		planBatch("only step"),
		{Actions: []types.Action{
			workAction(1),
			{Name: types.ActionFinish, Parameters: map[string]any{"message": "wrapped up"}},
		}},
	}

	require.NoError(t, h.loop.HandleTurn(context.Background(), "go", pacemaker.TurnContext{}))

	tc := h.loop.applyPlan(pacemaker.TurnContext{})
	assert.False(t, tc.HasPlan)
	assert.Zero(t, tc.PendingTasks)
}
