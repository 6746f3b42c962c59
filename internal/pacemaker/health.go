package pacemaker

import (
	"fmt"

	"helmsman/internal/history"
	"helmsman/internal/logging"
	"helmsman/internal/types"
	"helmsman/internal/vitals"
)

// =============================================================================
// INTERVENTION REASONS
// =============================================================================

// ReasonCode tags why the pacemaker wants control returned to the human.
type ReasonCode string

const (
	ReasonResourceDepleted ReasonCode = "RESOURCE_DEPLETED"
	ReasonLoopExhausted    ReasonCode = "LOOP_EXHAUSTED"
	ReasonFocusLost        ReasonCode = "FOCUS_LOST"
	ReasonErrorCascade     ReasonCode = "ERROR_CASCADE"
	ReasonStagnation       ReasonCode = "STAGNATION"
	ReasonConfidenceLow    ReasonCode = "CONFIDENCE_LOW"
	ReasonSubtaskStuck     ReasonCode = "SUBTASK_STUCK"
)

// Severity grades an intervention reason.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// InterventionReason is the pacemaker's verdict when the loop should stop
// and escalate to the human.
type InterventionReason struct {
	Code     ReasonCode
	Severity Severity
	Detail   string
}

func (r InterventionReason) String() string {
	return fmt.Sprintf("%s (%s): %s", r.Code, r.Severity, r.Detail)
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckHealth evaluates the anomaly conditions in strict priority order and
// returns the first match, or nil when the loop may continue. Never more
// than one reason per call.
func (p *Pacemaker) CheckHealth() *InterventionReason {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. Critical resource depletion.
	if s := p.vit.Get(vitals.Stamina); s < p.cfg.StaminaCritical {
		return p.found(ReasonResourceDepleted, SeverityCritical,
			fmt.Sprintf("stamina %.2f below critical floor %.2f", s, p.cfg.StaminaCritical))
	}

	// 2. Loop budget exhausted.
	if p.maxLoops > 0 && p.loopCount >= p.maxLoops {
		return p.found(ReasonLoopExhausted, SeverityHigh,
			fmt.Sprintf("loop %d reached budget %d", p.loopCount, p.maxLoops))
	}

	// 3. Open investigation failed hypothesis verification repeatedly.
	if p.investigationID != "" && p.investigationFailures >= p.cfg.InvestigationLimit {
		return p.found(ReasonSubtaskStuck, SeverityHigh,
			fmt.Sprintf("investigation %q failed verification %d times",
				p.investigationID, p.investigationFailures))
	}

	// 4. Error cascade: streak or frequency.
	if p.consecutiveErrors >= p.cfg.ConsecutiveErrorLimit {
		return p.found(ReasonErrorCascade, SeverityHigh,
			fmt.Sprintf("%d consecutive tool errors", p.consecutiveErrors))
	}
	if errs := p.hist.ErrorsInLast(p.cfg.ErrorWindow); errs >= p.cfg.ErrorWindowLimit {
		return p.found(ReasonErrorCascade, SeverityHigh,
			fmt.Sprintf("%d of the last %d actions failed", errs, p.cfg.ErrorWindow))
	}

	// 5. Stagnation: identical actions or identical results.
	if detail, ok := p.detectStagnation(); ok {
		return p.found(ReasonStagnation, SeverityMedium, detail)
	}

	// 6/7. Degraded metrics.
	if f := p.vit.Get(vitals.Focus); f < p.cfg.FocusLow {
		return p.found(ReasonFocusLost, SeverityMedium,
			fmt.Sprintf("focus %.2f below %.2f", f, p.cfg.FocusLow))
	}
	if c := p.vit.Get(vitals.Confidence); c < p.cfg.ConfidenceLow {
		return p.found(ReasonConfidenceLow, SeverityLow,
			fmt.Sprintf("confidence %.2f below %.2f", c, p.cfg.ConfidenceLow))
	}

	return nil
}

func (p *Pacemaker) found(code ReasonCode, sev Severity, detail string) *InterventionReason {
	r := &InterventionReason{Code: code, Severity: sev, Detail: detail}
	logging.Pacemaker("health check tripped: %s", r)
	return r
}

// detectStagnation checks the most recent entries for a run of identical
// (name, parameters) signatures or identical result summaries. The
// plan-proposal action is exempt from the signature check because its
// content legitimately varies between proposals.
func (p *Pacemaker) detectStagnation() (string, bool) {
	run := p.cfg.StagnationRunLength
	last := p.hist.Last(run)
	if len(last) < run {
		return "", false
	}

	if sameSignatures(last) && last[0].ActionName != types.ActionPlanProposal {
		return fmt.Sprintf("last %d actions identical: %s", run, last[0].ActionName), true
	}
	if sameResults(last) {
		return fmt.Sprintf("last %d results identical", run), true
	}
	return "", false
}

func sameSignatures(entries []history.Entry) bool {
	for _, e := range entries[1:] {
		if e.Signature != entries[0].Signature {
			return false
		}
	}
	return true
}

func sameResults(entries []history.Entry) bool {
	if entries[0].Result == "" {
		return false
	}
	for _, e := range entries[1:] {
		if e.Result != entries[0].Result {
			return false
		}
	}
	return true
}

// =============================================================================
// ESCALATION
// =============================================================================

// Intervene builds the terminal human-escalation action for a reason. The
// action embeds the reason, a vitals snapshot, the loop counters, and a
// short rendering of the recent history.
func (p *Pacemaker) Intervene(reason InterventionReason, historySummary string) types.Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, c, s := p.vit.Snapshot()
	if historySummary == "" {
		historySummary = summarize(p.hist.Last(p.cfg.InterventionWindow))
	}

	return types.Action{
		Name: types.ActionEscalate,
		Parameters: map[string]any{
			"reason":             string(reason.Code),
			"severity":           string(reason.Severity),
			"detail":             reason.Detail,
			"focus":              f,
			"confidence":         c,
			"stamina":            s,
			"loop_count":         p.loopCount,
			"max_loops":          p.maxLoops,
			"consecutive_errors": p.consecutiveErrors,
			"recent_history":     historySummary,
		},
		Rationale: fmt.Sprintf("automatic escalation: %s", reason),
	}
}
