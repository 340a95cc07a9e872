// Package websocket is the one channel adapter this repository implements
// end-to-end as a concrete dashboard surface: an http.Handler that upgrades
// each connection with coder/websocket and exchanges JSON frames, one per
// WebSocket message, with the Agent Loop over the bus. Other channels are Non-goal
// surfaces except for the adapters this repository actually ships.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/peopleinfo/pocketpaw/internal/bus"
	"github.com/peopleinfo/pocketpaw/internal/channels"
)

// Config is the subset of channel configuration the WebSocket adapter needs.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	AllowFrom      []string
}

// inboundFrame is the wire shape a dashboard client sends.
type inboundFrame struct {
	ChatID  string `json:"chat_id"`
	Sender  string `json:"sender_id"`
	Content string `json:"content"`
}

// outboundFrame is the wire shape this channel sends back.
type outboundFrame struct {
	ChatID        string `json:"chat_id"`
	Content       string `json:"content"`
	IsStreamChunk bool   `json:"is_stream_chunk"`
	IsStreamEnd   bool   `json:"is_stream_end"`
}

// Channel serves a dashboard over WebSocket, one connection per chat_id.
type Channel struct {
	*channels.BaseChannel
	cfg Config
	log *slog.Logger

	httpServer *http.Server

	connsMu sync.Mutex
	conns   map[string]*websocket.Conn // chat_id -> active connection
}

// New constructs a WebSocket dashboard channel from cfg.
func New(cfg Config, b bus.Bus, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("websocket", b, cfg.AllowFrom),
		cfg:         cfg,
		log:         log,
		conns:       make(map[string]*websocket.Conn),
	}
}

// Start launches the HTTP listener that accepts WebSocket upgrades.
func (c *Channel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleConn(ctx, w, r)
	})
	c.httpServer = &http.Server{Addr: c.cfg.ListenAddr, Handler: mux}

	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen websocket channel: %w", err)
	}

	go func() {
		if err := c.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.log.Error("websocket channel server exited", "error", err)
		}
	}()
	c.SetRunning(true)
	c.log.Info("websocket channel listening", "addr", c.cfg.ListenAddr)
	return nil
}

// Stop shuts down the HTTP listener and closes every open connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.httpServer != nil {
		_ = c.httpServer.Shutdown(ctx)
	}
	c.connsMu.Lock()
	for _, conn := range c.conns {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	c.conns = make(map[string]*websocket.Conn)
	c.connsMu.Unlock()
	return nil
}

func (c *Channel) handleConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var opts *websocket.AcceptOptions
	if len(c.cfg.AllowedOrigins) > 0 {
		opts = &websocket.AcceptOptions{OriginPatterns: c.cfg.AllowedOrigins}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		c.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	connCtx := ctx

	var chatID string
	defer func() {
		if chatID != "" {
			c.connsMu.Lock()
			delete(c.conns, chatID)
			c.connsMu.Unlock()
		}
	}()

	for {
		var frame inboundFrame
		if err := wsjson.Read(connCtx, conn, &frame); err != nil {
			return
		}
		if chatID == "" {
			chatID = frame.ChatID
			c.connsMu.Lock()
			c.conns[chatID] = conn
			c.connsMu.Unlock()
		}
		c.HandleMessage(connCtx, frame.Sender, frame.ChatID, frame.Content, nil, nil)
	}
}

// Send writes an OutboundMessage to the connection currently registered for
// its chat_id, if any is still open.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.connsMu.Lock()
	conn, ok := c.conns[msg.Session.ChatID]
	c.connsMu.Unlock()
	if !ok {
		return nil // no dashboard currently connected for this chat
	}

	frame := outboundFrame{
		ChatID:        msg.Session.ChatID,
		Content:       msg.Content,
		IsStreamChunk: msg.IsStreamChunk,
		IsStreamEnd:   msg.IsStreamEnd,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
