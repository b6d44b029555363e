package agent

import "context"

// Model is the generative service. It returns either final text or tool calls.
type Model interface {
	Invoke(ctx context.Context, req ModelRequest) (*ModelReply, error)
}

// Dispatcher executes named tools against the session store.
type Dispatcher interface {
	// Specs returns declarations for the named tools, in the given order.
	Specs(names []string) []ToolSpec

	// Call executes one tool. Tool-level failures are reported in the result;
	// a returned error means the tool could not run at all.
	Call(ctx context.Context, call ToolCall, env CallEnv) (ToolResult, error)
}

// Ensure GeminiModel implements Model.
var _ Model = (*GeminiModel)(nil)
