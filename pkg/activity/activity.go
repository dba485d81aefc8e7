package activity

import "time"

type EventType string

const (
	LLMTurn         EventType = "llm_turn"
	LLMError        EventType = "llm_error"
	ToolExec        EventType = "tool_exec"
	Complete        EventType = "complete"
	ProcessingStart EventType = "processing_start"
	LLMRequest      EventType = "llm_request"
	LLMResponse     EventType = "llm_response"
	ToolCall        EventType = "tool_call"
	ToolResult      EventType = "tool_result"
)

type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
}

type Emitter interface {
	Emit(Event)
}

type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
