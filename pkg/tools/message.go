package tools

import (
	"context"
	"fmt"

	"localagent/pkg/bus"
)

// MessageTool lets the LLM send a proactive status update to the
// currently-bound (channel, chat_id), distinct from the turn's final
// answer. The AgentLoop rebinds the context before every turn via
// SetContext, which also resets HasSentInRound for the new round.
type MessageTool struct {
	bus            *bus.MessageBus
	defaultChannel string
	defaultChatID  string
	called         bool
}

func NewMessageTool(msgBus *bus.MessageBus) *MessageTool {
	return &MessageTool{bus: msgBus}
}

func (t *MessageTool) Name() string {
	return "message"
}

func (t *MessageTool) Description() string {
	return "Send a message to the user. Use this when you want to communicate something before your final answer."
}

func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The message content to send",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) SetContext(channel, chatID string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
	t.called = false
}

// HasSentInRound reports whether message was already used in the
// current turn, so the AgentLoop can avoid publishing a duplicate
// outbound message for the turn's final content.
func (t *MessageTool) HasSentInRound() bool {
	return t.called
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}

	channel := t.defaultChannel
	chatID := t.defaultChatID

	if channel == "" || chatID == "" {
		return ErrorResult("No target channel/chat specified")
	}

	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})

	t.called = true

	return &ToolResult{
		ForLLM: fmt.Sprintf("Message sent to %s:%s", channel, chatID),
		Silent: true,
	}
}
