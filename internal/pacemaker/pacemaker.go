// Package pacemaker implements the dynamic resource-budget governor and
// anomaly detector for the control loop. It computes the per-turn loop
// budget from the vitals and task context, updates the vitals after every
// action, and scans the execution history for anomalies.
//
// The pacemaker is an explicit per-session object owned by the control
// loop, never a package-level singleton. Vitals and history are mutated
// exclusively inside RecordOutcome, in dispatch order.
package pacemaker

import (
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"helmsman/internal/history"
	"helmsman/internal/logging"
	"helmsman/internal/types"
	"helmsman/internal/vitals"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the governor's tuning parameters.
type Config struct {
	// Budget bounds. Every computed budget lands in [MinLoops, MaxLoops].
	MinLoops int
	MaxLoops int

	// Base budgets per turn shape.
	ConversationBudget int // free-form conversation
	PlannedBase        int // active plan: PlannedBase + pending/2
	DefaultBudget      int // everything else

	// Vitals weighting and budget multipliers.
	Weights       vitals.Weights
	LowThreshold  float64 // vitals score below this shrinks the budget
	LowFactor     float64
	HighThreshold float64 // vitals score above this grows the budget
	HighFactor    float64

	// Outcome adjustments.
	ErrorFocusPenalty       float64
	ErrorConfidencePenalty  float64
	SuccessConfidenceReward float64
	DenialConfidencePenalty float64
	FatigueDecay            float64

	// Turn-boundary recovery (bounded; clamped like every vitals write).
	RecoveryFocus      float64
	RecoveryConfidence float64
	RecoveryStamina    float64

	// Anomaly thresholds.
	ConsecutiveErrorLimit int // cascade: this many errors in a row
	ErrorWindow           int // cascade: window size for frequency check
	ErrorWindowLimit      int // cascade: errors within the window
	StagnationRunLength   int // identical entries in a row
	InvestigationLimit    int // failed hypothesis verifications

	// Metric floors for CheckHealth.
	StaminaCritical float64
	FocusLow        float64
	ConfidenceLow   float64

	// History.
	HistoryCapacity    int
	ResultSummaryLimit int // truncation bound for stored result summaries
	InterventionWindow int // history entries rendered into an escalation
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinLoops:           3,
		MaxLoops:           35,
		ConversationBudget: 10,
		PlannedBase:        15,
		DefaultBudget:      20,

		Weights:       vitals.DefaultWeights(),
		LowThreshold:  0.4,
		LowFactor:     0.7,
		HighThreshold: 0.8,
		HighFactor:    1.2,

		ErrorFocusPenalty:       0.15,
		ErrorConfidencePenalty:  0.20,
		SuccessConfidenceReward: 0.05,
		DenialConfidencePenalty: 0.05,
		FatigueDecay:            0.01,

		RecoveryFocus:      0.15,
		RecoveryConfidence: 0.15,
		RecoveryStamina:    0.25,

		ConsecutiveErrorLimit: 3,
		ErrorWindow:           10,
		ErrorWindowLimit:      5,
		StagnationRunLength:   3,
		InvestigationLimit:    2,

		StaminaCritical: 0.1,
		FocusLow:        0.3,
		ConfidenceLow:   0.6,

		HistoryCapacity:    history.DefaultCapacity,
		ResultSummaryLimit: 200,
		InterventionWindow: 5,
	}
}

// TurnContext describes the shape of the user turn for budget computation.
type TurnContext struct {
	// Conversational marks a free-form chat turn with no work attached.
	Conversational bool

	// HasPlan is true when an active plan with tasks exists.
	HasPlan bool

	// PendingTasks is the number of open tasks in the active plan.
	PendingTasks int
}

// =============================================================================
// PACEMAKER
// =============================================================================

// Pacemaker governs one session. Loop counters and history reset at turn
// boundaries; vitals persist across turns with bounded recovery.
type Pacemaker struct {
	mu sync.Mutex

	cfg  Config
	vit  *vitals.Vitals
	hist *history.Ring

	loopCount         int
	maxLoops          int
	consecutiveErrors int

	// Open sub-task investigation, if any.
	investigationID       string
	investigationFailures int
}

// New creates a pacemaker with the given config.
func New(cfg Config) *Pacemaker {
	if cfg.MaxLoops <= 0 {
		cfg = DefaultConfig()
	}
	logging.Pacemaker("pacemaker initialized: loops=[%d,%d], history=%d, cascade=%d/%d-of-%d",
		cfg.MinLoops, cfg.MaxLoops, cfg.HistoryCapacity,
		cfg.ConsecutiveErrorLimit, cfg.ErrorWindowLimit, cfg.ErrorWindow)

	return &Pacemaker{
		cfg:  cfg,
		vit:  vitals.New(),
		hist: history.NewRing(cfg.HistoryCapacity),
	}
}

// ComputeBudget derives maxLoops for the turn from the turn shape and the
// current vitals. This is the single admission-control decision made once
// per turn.
func (p *Pacemaker) ComputeBudget(tc TurnContext) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var base float64
	switch {
	case tc.Conversational:
		base = float64(p.cfg.ConversationBudget)
	case tc.HasPlan && tc.PendingTasks > 0:
		base = float64(p.cfg.PlannedBase + tc.PendingTasks/2)
		if base > float64(p.cfg.MaxLoops) {
			base = float64(p.cfg.MaxLoops)
		}
	default:
		base = float64(p.cfg.DefaultBudget)
	}

	score := p.vit.Score(p.cfg.Weights)
	factor := 1.0
	switch {
	case score < p.cfg.LowThreshold:
		factor = p.cfg.LowFactor
	case score > p.cfg.HighThreshold:
		factor = p.cfg.HighFactor
	}

	budget := int(math.Round(base * factor))
	if budget < p.cfg.MinLoops {
		budget = p.cfg.MinLoops
	}
	if budget > p.cfg.MaxLoops {
		budget = p.cfg.MaxLoops
	}

	p.maxLoops = budget
	logging.Pacemaker("budget computed: base=%.0f vitals=%.2f factor=%.1f -> maxLoops=%d",
		base, score, factor, budget)
	return budget
}

// BeginLoop increments the loop counter and returns (loopCount, maxLoops).
// The counter is monotonically non-decreasing within a turn.
func (p *Pacemaker) BeginLoop() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loopCount++
	return p.loopCount, p.maxLoops
}

// RecordOutcome appends a history entry for an executed action and adjusts
// the vitals. Called exactly once per dispatched action, in dispatch order.
func (p *Pacemaker) RecordOutcome(action types.Action, result string, kind types.OutcomeKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hist.Append(history.Entry{
		ActionName: action.Name,
		Signature:  action.Signature(),
		Result:     truncate(result, p.cfg.ResultSummaryLimit),
		IsError:    kind == types.OutcomeError,
		At:         time.Now(),
	})

	switch kind {
	case types.OutcomeError:
		p.vit.ApplyDelta(vitals.Focus, -p.cfg.ErrorFocusPenalty)
		p.vit.ApplyDelta(vitals.Confidence, -p.cfg.ErrorConfidencePenalty)
		p.consecutiveErrors++
	case types.OutcomeSuccess:
		p.vit.ApplyDelta(vitals.Confidence, p.cfg.SuccessConfidenceReward)
		p.consecutiveErrors = 0
	case types.OutcomeDenied:
		// Denial-grade penalty only; a human saying "no" is not a failure.
		p.vit.ApplyDelta(vitals.Confidence, -p.cfg.DenialConfidencePenalty)
	}

	// Fatigue over long sessions.
	p.vit.Decay(p.cfg.FatigueDecay)

	logging.PacemakerDebug("outcome recorded: action=%s kind=%s consecutive_errors=%d",
		action.Name, kind, p.consecutiveErrors)
}

// Reset zeroes the loop counters and history and applies bounded vitals
// recovery. Called at every turn boundary.
func (p *Pacemaker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loopCount = 0
	p.consecutiveErrors = 0
	p.hist.Clear()

	p.vit.ApplyDelta(vitals.Focus, p.cfg.RecoveryFocus)
	p.vit.ApplyDelta(vitals.Confidence, p.cfg.RecoveryConfidence)
	p.vit.ApplyDelta(vitals.Stamina, p.cfg.RecoveryStamina)

	f, c, s := p.vit.Snapshot()
	logging.Pacemaker("reset: vitals recovered to focus=%.2f confidence=%.2f stamina=%.2f", f, c, s)
}

// =============================================================================
// SUB-TASK INVESTIGATIONS
// =============================================================================

// OpenInvestigation starts tracking a sub-task hypothesis investigation.
// Any previously open investigation is replaced.
func (p *Pacemaker) OpenInvestigation(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.investigationID = id
	p.investigationFailures = 0
	logging.PacemakerDebug("investigation opened: %s", id)
}

// RecordInvestigationFailure notes a failed hypothesis-verification attempt
// for the open investigation. Mismatched ids are ignored.
func (p *Pacemaker) RecordInvestigationFailure(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.investigationID == "" || p.investigationID != id {
		return
	}
	p.investigationFailures++
	logging.PacemakerDebug("investigation %s verification failed (%d)", id, p.investigationFailures)
}

// CloseInvestigation clears the open investigation.
func (p *Pacemaker) CloseInvestigation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.investigationID = ""
	p.investigationFailures = 0
}

// =============================================================================
// ACCESSORS
// =============================================================================

// VitalsSnapshot returns the current (focus, confidence, stamina).
func (p *Pacemaker) VitalsSnapshot() (focus, confidence, stamina float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vit.Snapshot()
}

// RestoreVitals sets the vitals directly, used when resuming a session.
func (p *Pacemaker) RestoreVitals(focus, confidence, stamina float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vit.Restore(focus, confidence, stamina)
}

// LoopCount returns the current loop counter.
func (p *Pacemaker) LoopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loopCount
}

// MaxLoops returns the budget computed for the current turn.
func (p *Pacemaker) MaxLoops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxLoops
}

// ConsecutiveErrors returns the current error streak.
func (p *Pacemaker) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveErrors
}

// HistoryLen returns the number of stored history entries.
func (p *Pacemaker) HistoryLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hist.Len()
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

// HistorySummary renders the n most recent history entries for humans.
func (p *Pacemaker) HistorySummary(n int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return summarize(p.hist.Last(n))
}

func summarize(entries []history.Entry) string {
	if len(entries) == 0 {
		return "no actions recorded this turn"
	}
	out := ""
	for i, e := range entries {
		status := "ok"
		if e.IsError {
			status = "error"
		}
		out += fmt.Sprintf("%d. %s [%s] %s\n", i+1, e.ActionName, status, truncate(e.Result, 80))
	}
	return out
}
