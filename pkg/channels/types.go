package channels

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"localagent/pkg/bus"
)

// Channel is the collaborator contract every chat-platform adapter
// (and the in-repo web chat channel) implements. The ChannelManager
// drives Start/Stop at process lifecycle boundaries and Send for every
// outbound message addressed to that channel's name.
type Channel interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel is embedded by concrete channel adapters to share the
// allow_from gating (§4.8) and outbound dispatch pacing common to all
// of them. Adapters override Start/Stop/Send as needed; IsRunning and
// the allow_from check are normally inherited unchanged.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
	running   atomic.Bool
	limiter   *rate.Limiter

	mu sync.RWMutex
}

// NewBaseChannel constructs a BaseChannel for name, wired to msgBus.
// allowFrom is an optional allow-list of sender ids; nil or empty means
// no restriction (every sender is allowed). cfg is accepted so callers
// can pass their own typed config struct without BaseChannel needing to
// know its shape; it is currently unused beyond documenting intent at
// call sites.
func NewBaseChannel(name string, cfg any, msgBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	allowSet := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowSet[id] = true
	}
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowFrom: allowSet,
		limiter:   rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (b *BaseChannel) Name() string {
	return b.name
}

func (b *BaseChannel) Bus() *bus.MessageBus {
	return b.bus
}

func (b *BaseChannel) SetRunning(v bool) {
	b.running.Store(v)
}

func (b *BaseChannel) IsRunning() bool {
	return b.running.Load()
}

// IsAllowed reports whether senderID may publish inbound messages on
// this channel. An empty allow-list means every sender is allowed.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.allowFrom) == 0 {
		return true
	}
	return b.allowFrom[senderID]
}

// WaitDispatch blocks until the outbound pacing limiter admits another
// send, or ctx is done.
func (b *BaseChannel) WaitDispatch(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Start/Stop/Send are no-op defaults; a real adapter overrides all
// three and never calls these.
func (b *BaseChannel) Start(ctx context.Context) error { return nil }
func (b *BaseChannel) Stop(ctx context.Context) error  { return nil }
func (b *BaseChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	return nil
}
