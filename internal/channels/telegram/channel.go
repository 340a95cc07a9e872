// Package telegram adapts a Telegram bot (long polling) to the PocketPaw
// channel interface, translating telego updates into bus.InboundMessage and
// rendering bus.OutboundMessage chunks back as sent/edited messages.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/peopleinfo/pocketpaw/internal/bus"
	"github.com/peopleinfo/pocketpaw/internal/channels"
)

// Config is the subset of channel configuration the Telegram adapter needs.
type Config struct {
	Token     string
	Proxy     string
	AllowFrom []string
}

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	log        *slog.Logger
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	// lastMessageID tracks the most recent sent message per chat so a
	// stream-chunk OutboundMessage can be edited in place rather than
	// reposted on every chunk.
	lastMessageMu sync.Mutex
	lastMessageID map[string]int
}

// New constructs a Telegram channel from cfg.
func New(cfg Config, b bus.Bus, log *slog.Logger) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Channel{
		BaseChannel:   channels.NewBaseChannel("telegram", b, cfg.AllowFrom),
		bot:           bot,
		log:           log,
		lastMessageID: make(map[string]int),
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	c.SetRunning(true)
	c.log.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit so
// Telegram releases the getUpdates lock before any future restart.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.log.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.Text == "" {
		return
	}
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		if msg.From.Username != "" {
			senderID += "|" + msg.From.Username
		}
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	c.HandleMessage(ctx, senderID, chatID, msg.Text, nil, nil)
}

// Send renders an OutboundMessage chunk. The first chunk of a turn is sent
// as a new message; subsequent chunks edit that message in place until
// IsStreamEnd, matching the teacher's "draft stream" editing pattern without
// its full preview-controller machinery.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Content == "" && !msg.IsStreamEnd {
		return nil
	}
	chatID, err := strconv.ParseInt(msg.Session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.Session.ChatID, err)
	}

	c.lastMessageMu.Lock()
	existing, hasExisting := c.lastMessageID[msg.Session.ChatID]
	c.lastMessageMu.Unlock()

	if msg.IsStreamChunk && hasExisting {
		_, err := c.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(chatID), existing, msg.Content))
		if err == nil {
			return nil
		}
		c.log.Debug("telegram edit failed, falling back to new message", "error", err)
	}

	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	c.lastMessageMu.Lock()
	if msg.IsStreamEnd {
		delete(c.lastMessageID, msg.Session.ChatID)
	} else {
		c.lastMessageID[msg.Session.ChatID] = sent.MessageID
	}
	c.lastMessageMu.Unlock()
	return nil
}
