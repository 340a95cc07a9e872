package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/peopleinfo/pocketpaw/internal/bus"
)

// Manager owns every registered channel's lifecycle and routes outbound bus
// messages to the channel named in each message's session.
type Manager struct {
	channels   map[string]Channel
	bus        bus.Bus
	log        *slog.Logger
	dispatchID string
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

// NewManager creates a channel manager bound to b. Channels are registered
// afterwards via RegisterChannel.
func NewManager(b bus.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		channels:   make(map[string]Channel),
		bus:        b,
		log:        log,
		dispatchID: "channels.manager",
	}
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.Name()] = channel
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel and the outbound dispatch loop.
// The dispatcher always starts, even with zero channels registered yet.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	channels := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		channels[k] = v
	}
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)

	if len(channels) == 0 {
		m.log.Warn("no channels registered")
		return nil
	}

	for name, ch := range channels {
		m.log.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			m.log.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the outbound dispatcher and every registered channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	channels := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		channels[k] = v
	}
	m.mu.Unlock()

	for name, ch := range channels {
		if err := ch.Stop(ctx); err != nil {
			m.log.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// dispatchOutbound consumes outbound messages from the bus and routes each
// to the channel named by its session, cleaning up any media file the
// channel was handed afterward.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	ch, cancel := m.bus.SubscribeOutbound(m.dispatchID)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if IsInternalChannel(msg.Session.Channel) {
				continue
			}

			m.mu.RLock()
			target, exists := m.channels[msg.Session.Channel]
			m.mu.RUnlock()

			if !exists {
				m.log.Warn("unknown channel for outbound message", "channel", msg.Session.Channel)
				continue
			}

			if err := target.Send(ctx, msg); err != nil {
				m.log.Error("error sending message to channel", "channel", msg.Session.Channel, "error", err)
			}

			for _, media := range msg.Media {
				if media.URL != "" {
					if err := os.Remove(media.URL); err != nil {
						m.log.Debug("failed to clean up media file", "path", media.URL, "error", err)
					}
				}
			}
		}
	}
}

// SendToChannel delivers content directly to a named channel, bypassing the
// bus.
func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	m.mu.RLock()
	ch, exists := m.channels[channelName]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}
	return ch.Send(ctx, bus.OutboundMessage{
		Session: bus.SessionKey{Channel: channelName, ChatID: chatID},
		Content: content,
	})
}

// Status summarizes one channel's current state.
type Status struct {
	Running bool `json:"running"`
}

// GetStatus returns the running status of every registered channel.
func (m *Manager) GetStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.channels))
	for name, ch := range m.channels {
		out[name] = Status{Running: ch.IsRunning()}
	}
	return out
}
