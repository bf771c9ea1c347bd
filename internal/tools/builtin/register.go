package builtin

import (
	"coil/internal/tools"
)

// RegisterAll registers every builtin tool with the given registry.
func RegisterAll(registry *tools.Registry) error {
	allTools := []*tools.Tool{
		// File operations
		ReadFileTool(),
		WriteFileTool(),
		EditFileTool(),
		ListDirTool(),

		// Search operations
		GlobTool(),
		GrepTool(),

		// Execution and web
		ShellTool(),
		WebFetchTool(),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
