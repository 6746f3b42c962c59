package pacemaker

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/types"
)

func action(name string, params map[string]any) types.Action {
	return types.Action{Name: name, Parameters: params}
}

func TestComputeBudgetShapes(t *testing.T) {
	tests := []struct {
		name   string
		tc     TurnContext
		vitals [3]float64 // focus, confidence, stamina
		want   int
	}{
		{
			name:   "conversation with neutral vitals",
			tc:     TurnContext{Conversational: true},
			vitals: [3]float64{0.6, 0.6, 0.6},
			want:   10,
		},
		{
			name:   "default turn with neutral vitals",
			tc:     TurnContext{},
			vitals: [3]float64{0.6, 0.6, 0.6},
			want:   20,
		},
		{
			name:   "planned turn scales with pending tasks",
			tc:     TurnContext{HasPlan: true, PendingTasks: 10},
			vitals: [3]float64{0.6, 0.6, 0.6},
			want:   20, // 15 + 10/2
		},
		{
			name:   "planned turn caps at max",
			tc:     TurnContext{HasPlan: true, PendingTasks: 100},
			vitals: [3]float64{0.6, 0.6, 0.6},
			want:   35,
		},
		{
			name:   "low vitals shrink the budget",
			tc:     TurnContext{},
			vitals: [3]float64{0.3, 0.3, 0.3},
			want:   14, // 20 * 0.7
		},
		{
			name:   "high vitals grow the budget",
			tc:     TurnContext{},
			vitals: [3]float64{1, 1, 1},
			want:   24, // 20 * 1.2
		},
		{
			name:   "low vitals never drop below the floor",
			tc:     TurnContext{Conversational: true},
			vitals: [3]float64{0, 0, 0},
			want:   7, // 10 * 0.7, still above MinLoops
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(DefaultConfig())
			p.RestoreVitals(tt.vitals[0], tt.vitals[1], tt.vitals[2])
			assert.Equal(t, tt.want, p.ComputeBudget(tt.tc))
		})
	}
}

// The budget must land in [3,35] for any turn shape and any vitals.
func TestComputeBudgetAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := New(DefaultConfig())

	for i := 0; i < 5000; i++ {
		p.RestoreVitals(rng.Float64(), rng.Float64(), rng.Float64())
		tc := TurnContext{
			Conversational: rng.Intn(2) == 0,
			HasPlan:        rng.Intn(2) == 0,
			PendingTasks:   rng.Intn(200),
		}
		got := p.ComputeBudget(tc)
		require.GreaterOrEqual(t, got, 3, "tc=%+v", tc)
		require.LessOrEqual(t, got, 35, "tc=%+v", tc)
	}
}

// Any sequence of outcomes must keep the vitals within [0,1].
func TestRecordOutcomeKeepsVitalsBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	p := New(DefaultConfig())

	kinds := []types.OutcomeKind{types.OutcomeSuccess, types.OutcomeError, types.OutcomeDenied}
	for i := 0; i < 5000; i++ {
		p.RecordOutcome(action("tool", nil), "result", kinds[rng.Intn(len(kinds))])
		f, c, s := p.VitalsSnapshot()
		for _, v := range []float64{f, c, s} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestHistoryCapped(t *testing.T) {
	p := New(DefaultConfig())
	for i := 0; i < 30; i++ {
		p.RecordOutcome(action(fmt.Sprintf("tool_%d", i), nil), "ok", types.OutcomeSuccess)
	}
	assert.Equal(t, 20, p.HistoryLen())
}

func TestConsecutiveErrorTracking(t *testing.T) {
	p := New(DefaultConfig())

	p.RecordOutcome(action("a", nil), "boom", types.OutcomeError)
	p.RecordOutcome(action("b", nil), "boom", types.OutcomeError)
	assert.Equal(t, 2, p.ConsecutiveErrors())

	// Success resets the streak; denial leaves it untouched.
	p.RecordOutcome(action("c", nil), "fine", types.OutcomeSuccess)
	assert.Equal(t, 0, p.ConsecutiveErrors())

	p.RecordOutcome(action("d", nil), "boom", types.OutcomeError)
	p.RecordOutcome(action("e", nil), "denied", types.OutcomeDenied)
	assert.Equal(t, 1, p.ConsecutiveErrors())
}

func TestDenialPenaltyLighterThanError(t *testing.T) {
	fresh := func() *Pacemaker {
		p := New(DefaultConfig())
		p.RestoreVitals(0.8, 0.8, 0.8)
		return p
	}

	pd := fresh()
	pd.RecordOutcome(action("delete_file", nil), "denied", types.OutcomeDenied)
	_, denialConfidence, _ := pd.VitalsSnapshot()

	pe := fresh()
	pe.RecordOutcome(action("delete_file", nil), "boom", types.OutcomeError)
	_, errorConfidence, _ := pe.VitalsSnapshot()

	assert.Greater(t, denialConfidence, errorConfidence,
		"a denial must cost less confidence than a genuine failure")
}

func TestResetClearsCountersAndRecovers(t *testing.T) {
	p := New(DefaultConfig())
	p.ComputeBudget(TurnContext{})
	p.BeginLoop()
	p.BeginLoop()
	p.RecordOutcome(action("a", nil), "boom", types.OutcomeError)
	p.RestoreVitals(0.2, 0.2, 0.2)

	p.Reset()

	assert.Equal(t, 0, p.LoopCount())
	assert.Equal(t, 0, p.ConsecutiveErrors())
	assert.Equal(t, 0, p.HistoryLen())

	f, c, s := p.VitalsSnapshot()
	assert.InDelta(t, 0.35, f, 1e-9)
	assert.InDelta(t, 0.35, c, 1e-9)
	assert.InDelta(t, 0.45, s, 1e-9)
}

func TestResultSummaryTruncated(t *testing.T) {
	p := New(DefaultConfig())
	long := ""
	for i := 0; i < 50; i++ {
		long += "0123456789"
	}
	p.RecordOutcome(action("read_file", nil), long, types.OutcomeSuccess)

	summary := p.HistorySummary(1)
	assert.Less(t, len(summary), len(long))
}

func TestResultSummaryTruncationKeepsRunesIntact(t *testing.T) {
	p := New(DefaultConfig())
	long := strings.Repeat("結果", 200) // 3-byte runes; any byte-offset cut splits one

	p.RecordOutcome(action("run_shell", nil), long, types.OutcomeSuccess)

	summary := p.HistorySummary(1)
	assert.True(t, utf8.ValidString(summary), "summary contains a split rune: %q", summary)
}

func TestTruncateOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 10) // 2 bytes per rune

	got := truncate(s, 5) // lands mid-rune
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé...", got)

	// At or under the limit the string is untouched.
	assert.Equal(t, s, truncate(s, len(s)))
	assert.Equal(t, s, truncate(s, 0))
}
