package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/peopleinfo/pocketpaw/internal/pocketerr"
)

const (
	inboundQueueDepth = 256
	fanoutQueueDepth  = 64
)

// channelBus is the default in-process Bus. Inbound is single-consumer
// (the agent loop); outbound and system events are multi-subscriber, each
// subscriber getting its own buffered channel so a slow dashboard socket
// never stalls a fast Telegram poller.
type channelBus struct {
	log *slog.Logger

	inbound chan InboundMessage

	mu          sync.Mutex
	outboundSub map[string]chan OutboundMessage
	systemSub   map[string]chan SystemEvent
	closed      bool
}

// New constructs a process-wide Bus. log may be nil (slog.Default() is used).
func New(log *slog.Logger) Bus {
	if log == nil {
		log = slog.Default()
	}
	return &channelBus{
		log:         log,
		inbound:     make(chan InboundMessage, inboundQueueDepth),
		outboundSub: make(map[string]chan OutboundMessage),
		systemSub:   make(map[string]chan SystemEvent),
	}
}

// PublishInbound blocks when the inbound queue is full rather than dropping
// the message (fails-never back-pressure policy). It returns early with
// ctx.Err() if ctx is cancelled first.
func (b *channelBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound is a single-consumer contract: only the agent loop should
// call it. ok is false when the bus has been closed and drained.
func (b *channelBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-b.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound fans a message out to every current subscriber in
// publish order. A subscriber whose channel is full is logged and skipped
// rather than blocking the whole fan-out on one slow reader — outbound
// fan-out is best-effort per spec §4.A, unlike inbound.
func (b *channelBus) PublishOutbound(ctx context.Context, msg OutboundMessage) {
	b.mu.Lock()
	subs := make([]chan OutboundMessage, 0, len(b.outboundSub))
	for _, ch := range b.outboundSub {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return
		default:
			b.log.Warn("bus.outbound.subscriber_full", "session", msg.Session.String(),
				"error", &pocketerr.BusQueueFullError{Queue: "outbound"})
		}
	}
}

func (b *channelBus) SubscribeOutbound(id string) (<-chan OutboundMessage, func()) {
	ch := make(chan OutboundMessage, fanoutQueueDepth)
	b.mu.Lock()
	b.outboundSub[id] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.outboundSub, id)
		b.mu.Unlock()
	}
}

func (b *channelBus) PublishSystem(ctx context.Context, evt SystemEvent) {
	b.mu.Lock()
	subs := make([]chan SystemEvent, 0, len(b.systemSub))
	for _, ch := range b.systemSub {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		case <-ctx.Done():
			return
		default:
			b.log.Warn("bus.system.subscriber_full", "session", evt.Session.String(), "type", evt.Type,
				"error", &pocketerr.BusQueueFullError{Queue: "system"})
		}
	}
}

func (b *channelBus) SubscribeSystem(id string) (<-chan SystemEvent, func()) {
	ch := make(chan SystemEvent, fanoutQueueDepth)
	b.mu.Lock()
	b.systemSub[id] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.systemSub, id)
		b.mu.Unlock()
	}
}

func (b *channelBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.inbound)
	for id, ch := range b.outboundSub {
		close(ch)
		delete(b.outboundSub, id)
	}
	for id, ch := range b.systemSub {
		close(ch)
		delete(b.systemSub, id)
	}
}
