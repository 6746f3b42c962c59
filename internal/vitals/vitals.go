// Package vitals implements the bounded health metrics that scale the
// execution budget. Values live in [0,1] and are clamped on every write.
// Only the pacemaker mutates vitals; everything else reads snapshots.
package vitals

import "fmt"

// Metric identifies one of the three health scalars.
type Metric int

const (
	// Focus degrades when execution thrashes; low focus signals the loop
	// is no longer working toward the user's request.
	Focus Metric = iota

	// Confidence tracks recent outcome quality.
	Confidence

	// Stamina models fatigue over a long session; it only decays and is
	// restored at turn boundaries.
	Stamina

	numMetrics
)

// String returns the metric's wire name.
func (m Metric) String() string {
	switch m {
	case Focus:
		return "focus"
	case Confidence:
		return "confidence"
	case Stamina:
		return "stamina"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Weights assigns the weighted-average contribution of each metric.
type Weights struct {
	Focus      float64
	Confidence float64
	Stamina    float64
}

// DefaultWeights returns the canonical 0.4/0.4/0.2 weighting.
func DefaultWeights() Weights {
	return Weights{Focus: 0.4, Confidence: 0.4, Stamina: 0.2}
}

// Vitals holds the three bounded health metrics.
type Vitals struct {
	values [numMetrics]float64
}

// New returns vitals with every metric at full health.
func New() *Vitals {
	v := &Vitals{}
	for i := range v.values {
		v.values[i] = 1.0
	}
	return v
}

// Get returns the current value of a metric.
func (v *Vitals) Get(m Metric) float64 {
	return v.values[m]
}

// ApplyDelta adjusts a metric and clamps the result to [0,1].
func (v *Vitals) ApplyDelta(m Metric, delta float64) {
	v.values[m] = clamp01(v.values[m] + delta)
}

// Decay applies a uniform downward adjustment to all metrics.
func (v *Vitals) Decay(amount float64) {
	for i := range v.values {
		v.values[i] = clamp01(v.values[i] - amount)
	}
}

// Score returns the weighted average of the three metrics.
func (v *Vitals) Score(w Weights) float64 {
	total := w.Focus + w.Confidence + w.Stamina
	if total == 0 {
		return 0
	}
	sum := v.values[Focus]*w.Focus + v.values[Confidence]*w.Confidence + v.values[Stamina]*w.Stamina
	return sum / total
}

// Snapshot returns the current values as (focus, confidence, stamina).
func (v *Vitals) Snapshot() (focus, confidence, stamina float64) {
	return v.values[Focus], v.values[Confidence], v.values[Stamina]
}

// Restore sets all metrics directly, clamping each. Used when resuming a
// persisted session.
func (v *Vitals) Restore(focus, confidence, stamina float64) {
	v.values[Focus] = clamp01(focus)
	v.values[Confidence] = clamp01(confidence)
	v.values[Stamina] = clamp01(stamina)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
