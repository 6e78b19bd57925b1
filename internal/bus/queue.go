package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/logger"
)

// Buffer sizes. Inbound absorbs short bursts from the account workers;
// outbound holds replies while a channel reconnects.
const (
	inboundBuffer  = 100
	outboundBuffer = 100
)

// MessageBus routes messages between the channel layer and the gateway's
// host-call loop.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu     sync.RWMutex
	routes map[string][]func(OutboundMessage)
	log    *zap.SugaredLogger
}

// NewMessageBus creates a message bus with buffered queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, inboundBuffer),
		Outbound: make(chan OutboundMessage, outboundBuffer),
		routes:   make(map[string][]func(OutboundMessage)),
		log:      logger.Named("bus"),
	}
}

// PublishInbound hands a normalized context from a channel to the gateway.
// Blocks when the queue is full, backpressuring the publishing account.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.Inbound <- msg
}

// PublishOutbound queues a reply payload for the channels.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.Outbound <- msg
}

// Subscribe registers a callback for outbound messages addressed to a
// channel name.
func (b *MessageBus) Subscribe(channel string, callback func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[channel] = append(b.routes[channel], callback)
}

// DispatchOutbound runs the outbound dispatch loop until ctx is cancelled,
// then hands already-queued replies to their channels before returning.
// Replies the host produced should not vanish in a shutdown race.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.drainOutbound()
			return
		case msg := <-b.Outbound:
			b.deliver(msg)
		}
	}
}

func (b *MessageBus) drainOutbound() {
	for {
		select {
		case msg := <-b.Outbound:
			b.deliver(msg)
		default:
			return
		}
	}
}

func (b *MessageBus) deliver(msg OutboundMessage) {
	b.mu.RLock()
	subs := b.routes[msg.Channel]
	b.mu.RUnlock()
	if len(subs) == 0 {
		b.log.Warnf("no subscriber for channel %q, dropping outbound to %s", msg.Channel, msg.ChatID)
		return
	}
	for _, cb := range subs {
		cb(msg)
	}
}

// Pending reports queued message counts, for shutdown logging and status.
func (b *MessageBus) Pending() (inbound, outbound int) {
	return len(b.Inbound), len(b.Outbound)
}
