package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus funnels every surface into the router and fans side-channel
// replies back out to whichever surface registered for them.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the send function for one surface.
// Last registration wins.
func (b *MessageBus) SubscribeOutbound(source string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[source] = fn
}

// Publish enqueues an inbound message, dropping it when the queue is full
// so a stalled router never blocks a surface.
func (b *MessageBus) Publish(msg InboundMessage) bool {
	select {
	case b.Inbound <- msg:
		return true
	default:
		log.Printf("[bus] inbound queue full, dropping message from %s", msg.Source)
		return false
	}
}

// DispatchOutbound delivers outbound messages to their surface until ctx ends.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn := b.subs[msg.Source]
			b.mu.RUnlock()
			if fn == nil {
				log.Printf("[bus] no outbound subscriber for %s, dropping reply", msg.Source)
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
