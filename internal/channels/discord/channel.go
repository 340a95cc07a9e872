// Package discord adapts a Discord bot (gateway session) to the PocketPaw
// channel interface using discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/peopleinfo/pocketpaw/internal/bus"
	"github.com/peopleinfo/pocketpaw/internal/channels"
)

// Config is the subset of channel configuration the Discord adapter needs.
type Config struct {
	Token          string
	AllowFrom      []string
	RequireMention bool // group/guild channels require an @mention to respond
}

// Channel connects to Discord via the gateway (websocket) session.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	log            *slog.Logger
	requireMention bool

	handlerMu sync.Mutex
	removeFn  func()
}

// New constructs a Discord channel from cfg.
func New(cfg Config, b bus.Bus, log *slog.Logger) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	if log == nil {
		log = slog.Default()
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("discord", b, cfg.AllowFrom),
		session:        session,
		log:            log,
		requireMention: cfg.RequireMention,
	}, nil
}

// Start opens the gateway connection and registers the message handler.
func (c *Channel) Start(ctx context.Context) error {
	c.handlerMu.Lock()
	c.removeFn = c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, s, m)
	})
	c.handlerMu.Unlock()

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.SetRunning(true)
	c.log.Info("discord bot connected", "user", c.session.State.User.Username)
	return nil
}

// Stop closes the gateway session.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	c.handlerMu.Lock()
	if c.removeFn != nil {
		c.removeFn()
		c.removeFn = nil
	}
	c.handlerMu.Unlock()
	return c.session.Close()
}

func (c *Channel) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}

	isDM := m.GuildID == ""
	content := m.Content
	if !isDM && c.requireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if s.State.User != nil && u.ID == s.State.User.ID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		if s.State.User != nil {
			content = strings.TrimSpace(strings.ReplaceAll(content, "<@"+s.State.User.ID+">", ""))
			content = strings.TrimSpace(strings.ReplaceAll(content, "<@!"+s.State.User.ID+">", ""))
		}
	}

	c.HandleMessage(ctx, m.Author.ID, m.ChannelID, content, nil, map[string]string{"guild_id": m.GuildID})
}

// Send posts an outbound message's content as a new Discord message. Discord
// has no native "stream edit" primitive worth chasing here (unlike
// Telegram's message-edit flow) — each stream-end chunk is posted once.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if msg.Content == "" {
		return nil
	}
	if msg.IsStreamChunk && !msg.IsStreamEnd {
		return nil
	}
	_, err := c.session.ChannelMessageSend(msg.Session.ChatID, msg.Content)
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}
