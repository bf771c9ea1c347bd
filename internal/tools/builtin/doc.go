// Package builtin provides the fixed tool surface the dispatcher knows
// how to cache and invalidate.
//
// Tools:
//   - read_file: Read file contents
//   - write_file: Write content to a file
//   - edit_file: Edit a file with text replacement
//   - list_dir: List directory contents
//   - glob: Find files matching a pattern
//   - grep: Search file contents with regex
//   - shell: Execute a shell command
//   - web_fetch: Fetch a URL as readable text
package builtin
