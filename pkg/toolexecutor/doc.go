// Package toolexecutor registers and executes structured tools for agents.
//
// Invariants:
// - Tool names are unique and the registry is immutable once sealed.
// - Parameters are schema-validated, with declared defaults applied, before execution.
// - No failure crosses Invoke as a panic or error: every result is text, and
//   failures start with "error:".
// - Every result is valid UTF-8 and bounded by MaxResultChars.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Options{})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (string, error) {
//			return toolexecutor.StringParam(params, "text"), nil
//		},
//	})
//	exec.Seal()
//	out := exec.Invoke(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
