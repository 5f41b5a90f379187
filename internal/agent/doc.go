// Package agent wraps a completer with a small tool-using loop.
//
// Includes:
//   - Tool: name, description, JSON input schema, handler.
//   - GenerateSchema[T](): derive JSON Schema from Go structs.
//   - Tools: calculator (expression evaluation), wikipedia (page summaries).
//   - ToolAgent: a brain.Completer that lets the model call tools before answering.
//     Intermediate steps never leave the agent.
package agent
