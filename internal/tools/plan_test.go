package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"helmsman/internal/dispatch"
	"helmsman/internal/types"
)

// =============================================================================
// PROPOSE PLAN TOOL TESTS
// =============================================================================

// Every action name the conversation prompt tells the policy about must
// resolve in the registry, or the dispatcher filters the proposal and the
// plan-aware stagnation exemption never sees a plan action.
func TestRegisterAll_IncludesPlanProposal(t *testing.T) {
	t.Parallel()

	registry := dispatch.NewRegistry()
	if err := RegisterAll(registry); err != nil {
		t.Fatalf("RegisterAll error: %v", err)
	}
	if !registry.Has(types.ActionPlanProposal) {
		t.Fatalf("%q is not in the registry; available: %v", types.ActionPlanProposal, registry.Names())
	}
	if (types.Action{Name: types.ActionPlanProposal}).IsTerminal() {
		t.Errorf("%q must not be a terminal action", types.ActionPlanProposal)
	}
}

func TestProposePlanTool_Execute_Steps(t *testing.T) {
	t.Parallel()

	// JSON-decoded parameters arrive as []any of strings.
	result, err := executeProposePlan(context.Background(), map[string]any{
		"steps": []any{"read the config", "run the tests", "report findings"},
	})
	if err != nil {
		t.Fatalf("executeProposePlan error: %v", err)
	}
	if !strings.Contains(result, "3 steps") {
		t.Errorf("expected step count in output, got %q", result)
	}
	if !strings.Contains(result, "2. run the tests") {
		t.Errorf("expected numbered outline, got %q", result)
	}
}

func TestProposePlanTool_Execute_FreeformPlan(t *testing.T) {
	t.Parallel()

	result, err := executeProposePlan(context.Background(), map[string]any{
		"plan": "first look around, then decide",
	})
	if err != nil {
		t.Fatalf("executeProposePlan error: %v", err)
	}
	if !strings.Contains(result, "first look around") {
		t.Errorf("expected plan text echoed, got %q", result)
	}
}

func TestProposePlanTool_Execute_MissingParams(t *testing.T) {
	t.Parallel()

	_, err := executeProposePlan(context.Background(), map[string]any{})
	if !errors.Is(err, dispatch.ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestPlanSteps_SkipsNonStrings(t *testing.T) {
	t.Parallel()

	steps := PlanSteps(map[string]any{
		"steps": []any{"keep", 42, "", "also keep"},
	})
	if len(steps) != 2 || steps[0] != "keep" || steps[1] != "also keep" {
		t.Errorf("unexpected steps: %v", steps)
	}
}
