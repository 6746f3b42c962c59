package tools

import (
	"helmsman/internal/dispatch"
)

// RegisterAll registers the built-in tool set with the given registry.
func RegisterAll(registry *dispatch.Registry) error {
	allTools := []*dispatch.Tool{
		// File operations
		ReadFileTool(),
		WriteFileTool(),
		EditFileTool(),
		DeleteFileTool(),
		ListDirTool(),

		// Shell
		RunShellTool(),

		// Planning
		ProposePlanTool(),

		// Terminal actions
		RespondTool(),
		ReportTool(),
		FinishTool(),
		ExitTool(),
		EscalateTool(),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
