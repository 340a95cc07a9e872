// Package bus implements the process-wide typed pub/sub that decouples
// channel adapters from the agent loop.
package bus

import "context"

// SessionKey identifies one conversation. Equality is structural: two
// SessionKeys with the same Channel and ChatID are the same conversation.
type SessionKey struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
}

func (k SessionKey) String() string {
	return k.Channel + ":" + k.ChatID
}

// MediaAttachment is an opaque reference to a file accompanying a message.
// Channels decide how to render it; the core never inspects the bytes.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// InboundMessage is one user turn arriving from a channel adapter.
type InboundMessage struct {
	Session     SessionKey        `json:"session"`
	SenderID    string            `json:"sender_id"`
	Content     string            `json:"content"`
	Media       []MediaAttachment `json:"media,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
	ReceivedAt  int64             `json:"received_at"` // unix millis
	AgentID     string            `json:"agent_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a chunk or chunk terminator bound for a channel.
type OutboundMessage struct {
	Session       SessionKey        `json:"session"`
	Content       string            `json:"content"`
	IsStreamChunk bool              `json:"is_stream_chunk"`
	IsStreamEnd   bool              `json:"is_stream_end"`
	Media         []MediaAttachment `json:"media,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SystemEventType enumerates the non-chat events the loop publishes.
type SystemEventType string

const (
	SystemEventThinking   SystemEventType = "thinking"
	SystemEventToolStart  SystemEventType = "tool_start"
	SystemEventToolResult SystemEventType = "tool_result"
	SystemEventError      SystemEventType = "error"
	SystemEventTokenUsage SystemEventType = "token_usage"
	SystemEventDone       SystemEventType = "done"
)

// SystemEvent carries out-of-band turn telemetry (never shown in chat).
type SystemEvent struct {
	Session SessionKey      `json:"session"`
	Type    SystemEventType `json:"event_type"`
	Payload any             `json:"payload,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(InboundMessage) error

// Bus is the three-channel pub/sub contract the agent loop consumes and
// channel adapters publish to. PublishInbound never drops: a full inbound
// queue blocks the publisher until the consumer catches up. Outbound and
// system fan-out do not block on a slow reader: a subscriber whose queue is
// full is logged and skipped for that message.
type Bus interface {
	PublishInbound(ctx context.Context, msg InboundMessage) error
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)

	PublishOutbound(ctx context.Context, msg OutboundMessage)
	SubscribeOutbound(id string) (ch <-chan OutboundMessage, cancel func())

	PublishSystem(ctx context.Context, evt SystemEvent)
	SubscribeSystem(id string) (ch <-chan SystemEvent, cancel func())

	Close()
}
