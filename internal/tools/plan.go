package tools

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/dispatch"
	"helmsman/internal/types"
)

// ProposePlanTool returns the non-terminal tool that records a working
// plan before multi-step work. Execution is a pass-through: the rendered
// outline goes into the transcript so later proposals can reference it,
// and the control loop counts the steps toward the next turn's budget.
func ProposePlanTool() *dispatch.Tool {
	return dispatch.NewSyncTool(types.ActionPlanProposal, "Record a working plan before multi-step work", executeProposePlan)
}

func executeProposePlan(ctx context.Context, args map[string]any) (string, error) {
	steps := PlanSteps(args)
	if len(steps) == 0 {
		if plan, _ := args["plan"].(string); plan != "" {
			return fmt.Sprintf("Plan recorded:\n%s", plan), nil
		}
		return "", fmt.Errorf("%w: steps or plan is required", dispatch.ErrInvalidParams)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan recorded (%d steps):\n", len(steps))
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// PlanSteps extracts the step list from plan-proposal parameters. JSON
// decoding hands arrays over as []any, so each element is re-asserted.
func PlanSteps(args map[string]any) []string {
	raw, ok := args["steps"].([]any)
	if !ok {
		return nil
	}
	steps := make([]string, 0, len(raw))
	for _, s := range raw {
		if step, ok := s.(string); ok && strings.TrimSpace(step) != "" {
			steps = append(steps, step)
		}
	}
	return steps
}
