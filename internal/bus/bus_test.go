package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg := InboundMessage{Session: SessionKey{Channel: "cli", ChatID: "1"}, Content: "hi"}
	if err := b.PublishInbound(ctx, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got.Content != "hi" {
		t.Fatalf("got %+v", got)
	}
}

func TestOutboundFanOutOrderPerSubscriber(t *testing.T) {
	b := New(nil)
	defer b.Close()
	ctx := context.Background()

	ch, cancel := b.SubscribeOutbound("sub-1")
	defer cancel()

	key := SessionKey{Channel: "cli", ChatID: "1"}
	b.PublishOutbound(ctx, OutboundMessage{Session: key, Content: "a", IsStreamChunk: true})
	b.PublishOutbound(ctx, OutboundMessage{Session: key, Content: "b", IsStreamChunk: true})
	b.PublishOutbound(ctx, OutboundMessage{Session: key, Content: "", IsStreamEnd: true})

	first := <-ch
	second := <-ch
	third := <-ch

	if first.Content != "a" || second.Content != "b" || !third.IsStreamEnd {
		t.Fatalf("out of order: %+v %+v %+v", first, second, third)
	}
}

func TestSystemEventSubscription(t *testing.T) {
	b := New(nil)
	defer b.Close()
	ctx := context.Background()

	ch, cancel := b.SubscribeSystem("sub-1")
	defer cancel()

	key := SessionKey{Channel: "cli", ChatID: "1"}
	b.PublishSystem(ctx, SystemEvent{Session: key, Type: SystemEventDone})

	evt := <-ch
	if evt.Type != SystemEventDone {
		t.Fatalf("got %+v", evt)
	}
}

func TestSessionKeyStringForm(t *testing.T) {
	k := SessionKey{Channel: "telegram", ChatID: "42"}
	if k.String() != "telegram:42" {
		t.Fatalf("got %q", k.String())
	}
}
