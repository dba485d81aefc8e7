package channels

import (
	"context"
	"testing"
	"time"

	"localagent/pkg/bus"
)

func TestBaseChannel_IsAllowed_NoRestriction(t *testing.T) {
	b := NewBaseChannel("web", nil, bus.NewMessageBus(), nil)
	if !b.IsAllowed("anyone") {
		t.Error("expected all senders allowed with empty allow-list")
	}
}

func TestBaseChannel_IsAllowed_WithList(t *testing.T) {
	b := NewBaseChannel("web", nil, bus.NewMessageBus(), []string{"alice", "bob"})
	if !b.IsAllowed("alice") {
		t.Error("expected alice to be allowed")
	}
	if b.IsAllowed("carol") {
		t.Error("expected carol to be denied")
	}
}

func TestBaseChannel_NameAndRunning(t *testing.T) {
	b := NewBaseChannel("telegram", nil, bus.NewMessageBus(), nil)
	if b.Name() != "telegram" {
		t.Errorf("expected name 'telegram', got %q", b.Name())
	}
	if b.IsRunning() {
		t.Error("expected not running initially")
	}
	b.SetRunning(true)
	if !b.IsRunning() {
		t.Error("expected running after SetRunning(true)")
	}
}

func TestBaseChannel_WaitDispatch(t *testing.T) {
	b := NewBaseChannel("web", nil, bus.NewMessageBus(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.WaitDispatch(ctx); err != nil {
		t.Errorf("expected first dispatch to be admitted immediately, got %v", err)
	}
}

func TestBaseChannel_DefaultStartStopSend(t *testing.T) {
	b := NewBaseChannel("web", nil, bus.NewMessageBus(), nil)
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Errorf("expected no-op Start to succeed, got %v", err)
	}
	if err := b.Send(ctx, bus.OutboundMessage{}); err != nil {
		t.Errorf("expected no-op Send to succeed, got %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Errorf("expected no-op Stop to succeed, got %v", err)
	}
}
