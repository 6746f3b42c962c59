// Package tools provides the built-in tool set registered with the
// action dispatcher.
//
// Tools:
//   - read_file: Read file contents
//   - write_file: Write content to a file
//   - edit_file: Edit a file with text replacement
//   - delete_file: Delete a file (requires permission)
//   - list_dir: List directory contents
//   - run_shell: Execute a shell command (asynchronous)
//   - propose_plan: Record a working plan before multi-step work
//   - respond/report/escalate/exit/finish: terminal actions that end a turn
package tools
