// Package channels provides the channel abstraction layer for multi-platform
// messaging. Channels connect external platforms (Telegram, Discord, a
// WebSocket dashboard) to the Agent Loop via the message bus, translating
// platform-native updates into bus.InboundMessage and rendering
// bus.OutboundMessage back out.
package channels

import (
	"context"
	"strings"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":    true,
	"system": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel defines the interface that all channel implementations satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord", "websocket").
	Name() string

	// Start begins listening for messages. Non-blocking after setup completes.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Concrete channels embed this struct.
type BaseChannel struct {
	name      string
	bus       bus.Bus
	running   bool
	allowList []string
}

// NewBaseChannel creates a BaseChannel bound to the given bus and allowlist.
// An empty allowlist means every sender is allowed.
func NewBaseChannel(name string, b bus.Bus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: b, allowList: allowList}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the bound message bus.
func (c *BaseChannel) Bus() bus.Bus { return c.bus }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist. Supports the
// compound senderID form "123456|username". An empty allowlist allows all
// senders.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleMessage builds an InboundMessage and publishes it to the bus. It is
// the standard way for a channel adapter to forward a received message.
func (c *BaseChannel) HandleMessage(ctx context.Context, senderID, chatID, content string, media []bus.MediaAttachment, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	msg := bus.InboundMessage{
		Session:    bus.SessionKey{Channel: c.name, ChatID: chatID},
		SenderID:   senderID,
		Content:    content,
		Media:      media,
		ReceivedAt: time.Now().UnixMilli(),
		Metadata:   metadata,
	}
	_ = c.bus.PublishInbound(ctx, msg)
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
