package tools

import "context"

// Tool is the polymorphic capability every registry entry implements:
// a name, a human description, a JSON-schema parameter description, and
// an invoke method. execute is expected to never panic; a tool that
// fails returns a ToolResult with IsError set so the LLM can observe it
// as a tool result and react.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ContextualTool is implemented by tools whose behavior depends on the
// currently-bound (channel, chat_id) — message and spawn/subagent
// tools are rebound before every turn so their side effects target the
// right peer.
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// AsyncCallback is invoked once an AsyncTool's background work
// terminates. It never sends the result to the user directly; the
// caller decides whether and how to surface it.
type AsyncCallback func(ctx context.Context, result *ToolResult)

// AsyncTool is implemented by tools that return immediately with an
// acknowledgment and complete their work on a background goroutine,
// reporting completion through the supplied callback.
type AsyncTool interface {
	SetCallback(cb AsyncCallback)
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	ForLLM  string // content appended to the tool-result turn, observed by the LLM
	ForUser string // optional content to surface to the user directly, bypassing the LLM
	IsError bool
	Silent  bool // true if ForUser should not be sent even if non-empty
	Async   bool // true if the tool's real work continues in the background
	Err     error
}

func NewToolResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func SilentResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content, Silent: true}
}

func AsyncResult(ack string) *ToolResult {
	return &ToolResult{ForLLM: ack, Async: true, Silent: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ToolToSchema projects a Tool into the OpenAI-style function-calling
// schema handed to the LLM provider.
func ToolToSchema(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}

// subagentBase is the shared state of the spawn tool: a reference to
// the manager plus the currently-bound origin (channel, chat_id).
type subagentBase struct {
	manager       *SubagentManager
	originChannel string
	originChatID  string
}

func (b *subagentBase) SetContext(channel, chatID string) {
	b.originChannel = channel
	b.originChatID = chatID
}

// subagentParameters is the shared JSON schema for spawn-style tools.
func subagentParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "The task for the subagent to complete, described in enough detail to work independently",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the task (for display)",
			},
		},
		"required": []string{"task"},
	}
}
