// Package tool holds the tools the agent can call.
//
// Local tools are typed Go functions wrapped by NewFunc; the model sees the JSON
// schema of the argument struct:
//
//	t := tool.NewFunc("multiply", "Multiply two numbers",
//		func(ctx context.Context, args tool.MultiplyArgs) (string, error) { ... })
//
// Builtin returns book_hotel (behind human review) and multiply. NewWebSearch
// adds a Brave-backed web_search tool. ConnectMCP lists the tools of remote MCP
// servers and exposes each as a tools.Tool, optionally behind human review.
package tool
