package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"localagent/pkg/bus"
	"localagent/pkg/config"
	"localagent/pkg/providers"
)

// fakeProvider is a scripted providers.LLMProvider: each call to Chat
// returns the next response in the list (the last response repeats once
// exhausted), and records the messages it was given so tests can assert
// on what the loop built.
type fakeProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	seen      [][]providers.Message
}

func (f *fakeProvider) Chat(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, options map[string]any) (*providers.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgsCopy := make([]providers.Message, len(messages))
	copy(msgsCopy, messages)
	f.seen = append(f.seen, msgsCopy)

	idx := len(f.seen) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeProvider) GetDefaultModel() string { return "fake-model" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *fakeProvider) messagesAt(i int) []providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[i]
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()
	cfg.Heartbeat.Enabled = false
	return cfg
}

// Scenario 1 (spec.md §8, "simple turn"): a plain question with no tool
// calls is answered directly from the LLM's content.
func TestAgentLoop_SimpleTurn(t *testing.T) {
	cfg := newTestConfig(t)
	provider := &fakeProvider{responses: []*providers.LLMResponse{
		{Content: "Hello back!"},
	}}

	al := NewAgentLoop(cfg, bus.NewMessageBus(), provider)
	defer al.Stop()

	resp, err := al.ProcessDirect(context.Background(), "Hi there", "test-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "Hello back!" {
		t.Errorf("expected 'Hello back!', got %q", resp)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected exactly 1 LLM call, got %d", provider.callCount())
	}
}

// Scenario 2 (spec.md §8, "single tool call"): the LLM calls a tool, the
// loop executes it and feeds the result back, and the LLM's follow-up
// answer becomes the final response.
func TestAgentLoop_SingleToolCall(t *testing.T) {
	cfg := newTestConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.Agents.Defaults.Workspace, "hello.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	provider := &fakeProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "hello.txt"}},
		}},
		{Content: "The file says: hello world"},
	}}

	al := NewAgentLoop(cfg, bus.NewMessageBus(), provider)
	defer al.Stop()

	resp, err := al.ProcessDirect(context.Background(), "What does hello.txt say?", "test-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "The file says: hello world" {
		t.Errorf("unexpected final response: %q", resp)
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected exactly 2 LLM calls, got %d", provider.callCount())
	}

	// The second Chat call must have seen the tool's result as a "tool"
	// role message carrying the file's contents.
	secondCallMsgs := provider.messagesAt(1)
	found := false
	for _, m := range secondCallMsgs {
		if m.Role == "tool" && m.Content == "hello world" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected second LLM call to include the tool result message with the file contents")
	}
}

// Scenario 4 (spec.md §8, "spawn round trip"): a subagent-completion
// announcement arrives on the bus as an InboundMessage(channel="system",
// chat_id="<origin_channel>:<origin_chat_id>"). The agent's reply must be
// published exactly once, addressed to the origin channel/chat -- never
// to "system" (the outbound side's data-model invariant), and never
// twice (Run()'s own publish-if-non-empty step must not double-send what
// runAgentLoop already published on processSystemMessage's behalf).
func TestAgentLoop_SpawnRoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	provider := &fakeProvider{responses: []*providers.LLMResponse{
		{Content: "The subagent finished the report."},
	}}

	msgBus := bus.NewMessageBus()
	al := NewAgentLoop(cfg, msgBus, provider)
	defer al.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		al.Run(ctx)
		close(runDone)
	}()

	msgBus.PublishInbound(bus.InboundMessage{
		Channel:  "system",
		SenderID: "subagent",
		ChatID:   "web:chat-42",
		Content:  "Subagent task complete: wrote report.md",
	})

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recvCancel()
	out, ok := msgBus.ConsumeOutbound(recvCtx)
	if !ok {
		t.Fatal("expected exactly one outbound message, got none")
	}
	if out.Channel != "web" {
		t.Errorf("expected outbound channel 'web' (never 'system'), got %q", out.Channel)
	}
	if out.ChatID != "chat-42" {
		t.Errorf("expected outbound chat_id 'chat-42', got %q", out.ChatID)
	}

	// No second publish should follow.
	secondCtx, secondCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer secondCancel()
	if _, ok := msgBus.ConsumeOutbound(secondCtx); ok {
		t.Error("expected no second outbound message (duplicate publish regression)")
	}

	al.Stop()
	cancel()
	<-runDone
}

// Scenario 5 (spec.md §8, "iteration cap"): an LLM that never stops
// requesting tool calls is cut off at the configured iteration limit and
// the loop falls back to the turn's default response.
func TestAgentLoop_IterationCap(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Agents.Defaults.MaxToolIterations = 3
	if err := os.WriteFile(filepath.Join(cfg.Agents.Defaults.Workspace, "loop.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	alwaysCalls := &providers.LLMResponse{ToolCalls: []providers.ToolCall{
		{ID: "call_n", Name: "read_file", Arguments: map[string]any{"path": "loop.txt"}},
	}}
	provider := &fakeProvider{responses: []*providers.LLMResponse{alwaysCalls}}

	al := NewAgentLoop(cfg, bus.NewMessageBus(), provider)
	defer al.Stop()

	resp, err := al.ProcessDirect(context.Background(), "loop forever", "test-session")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "I've completed processing but have no response to give." {
		t.Errorf("expected fallback to the default response, got %q", resp)
	}
	if provider.callCount() != 3 {
		t.Errorf("expected exactly MaxToolIterations=3 LLM calls, got %d", provider.callCount())
	}
}
