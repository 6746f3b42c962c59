package tools

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/dispatch"
	"helmsman/internal/types"
)

// Terminal actions end the agent's turn and hand control back to the
// operator. Their execution is a pass-through: the payload becomes the
// conversational output and the dispatcher stops looping.

// RespondTool returns the terminal tool for a direct conversational reply.
func RespondTool() *dispatch.Tool {
	return dispatch.NewSyncTool(types.ActionRespond, "Reply to the operator and end the turn", executeMessage)
}

// ReportTool returns the terminal tool for a structured end-of-work report.
func ReportTool() *dispatch.Tool {
	return dispatch.NewSyncTool(types.ActionReport, "Summarize completed work and end the turn", executeMessage)
}

// FinishTool returns the terminal tool that marks the current task done.
func FinishTool() *dispatch.Tool {
	return dispatch.NewSyncTool(types.ActionFinish, "Mark the task complete and end the turn", executeMessage)
}

// ExitTool returns the terminal tool that ends the session.
func ExitTool() *dispatch.Tool {
	return dispatch.NewSyncTool(types.ActionExit, "End the session", func(ctx context.Context, args map[string]any) (string, error) {
		if msg, _ := args["message"].(string); msg != "" {
			return msg, nil
		}
		return "Session ended.", nil
	})
}

// EscalateTool returns the terminal tool used when the agent (or the
// pacemaker on its behalf) hands a stuck situation back to the operator.
func EscalateTool() *dispatch.Tool {
	return dispatch.NewSyncTool(types.ActionEscalate, "Hand control back to the operator with a diagnosis", executeEscalate)
}

func executeMessage(ctx context.Context, args map[string]any) (string, error) {
	if msg, _ := args["message"].(string); msg != "" {
		return msg, nil
	}
	if msg, _ := args["summary"].(string); msg != "" {
		return msg, nil
	}
	return "", fmt.Errorf("%w: message is required", dispatch.ErrInvalidParams)
}

func executeEscalate(ctx context.Context, args map[string]any) (string, error) {
	var b strings.Builder

	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "ESCALATION"
	}
	b.WriteString("I need to pause and check in with you.\n\n")
	fmt.Fprintf(&b, "Reason: %s", reason)
	if sev, _ := args["severity"].(string); sev != "" {
		fmt.Fprintf(&b, " (%s)", sev)
	}
	b.WriteString("\n")

	if detail, _ := args["detail"].(string); detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", detail)
	}

	if lc, ok := intArg(args, "loop_count"); ok {
		ml, _ := intArg(args, "max_loops")
		fmt.Fprintf(&b, "Progress: loop %d of %d\n", lc, ml)
	}

	if hist, _ := args["recent_history"].(string); hist != "" {
		fmt.Fprintf(&b, "\nRecent actions:\n%s\n", hist)
	}

	b.WriteString("\nHow would you like me to proceed?")
	return b.String(), nil
}
