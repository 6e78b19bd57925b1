// Package channels defines the Channel interface for chat platform integrations.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/dayuer/qqbridge/internal/bus"
)

// Channel is the interface that all chat platform integrations must implement.
type Channel interface {
	// Name returns the channel identifier (e.g., "qq").
	Name() string

	// Start connects to the platform and begins listening. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop() error

	// Send delivers an outbound message through this channel.
	Send(msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is active.
	IsRunning() bool
}

// BaseChannel provides shared state and publish discipline for channel
// implementations.
type BaseChannel struct {
	ChannelName string
	Bus         *bus.MessageBus
	AllowFrom   []string

	mu      sync.RWMutex
	running bool
}

// SetRunning records whether the channel is active.
func (b *BaseChannel) SetRunning(v bool) {
	b.mu.Lock()
	b.running = v
	b.mu.Unlock()
}

// IsRunning reports whether the channel is active.
func (b *BaseChannel) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// IsAllowed checks if a sender is permitted to interact with the bot. An
// empty allowlist admits everyone.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range b.AllowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

// HandleMessage applies the allowlist, stamps the channel name and a
// receive time if the producer left it zero, and publishes to the bus.
func (b *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	if !b.IsAllowed(msg.SenderID) {
		return
	}
	msg.Channel = b.ChannelName
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.Bus.PublishInbound(msg)
}
