// Package agentloop implements the Agent Loop (spec §4.G): the top-level
// bus consumer that bridges inbound messages to the Router and republishes
// its events as outbound chunks and system events.
package agentloop

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/backend"
	"github.com/peopleinfo/pocketpaw/internal/bus"
	"github.com/peopleinfo/pocketpaw/internal/contextbuilder"
	"github.com/peopleinfo/pocketpaw/internal/memory"
	"github.com/peopleinfo/pocketpaw/internal/pocketerr"
)

var tracer = otel.Tracer("pocketpaw/agentloop")

// webSearchHeaderPrefix marks a tool_result whose first line should also be
// streamed as a chat chunk so the UI can attribute the search, per spec
// §4.G step 5.
const webSearchHeaderPrefix = "PocketPaw - Search"

// Router is the narrow slice of internal/router.Router the loop needs,
// named here so tests can stub it without importing the concrete type.
type Router interface {
	Run(ctx context.Context, req backend.RunRequest) <-chan agentevent.Event
	Stop()
}

// SlashCommand is checked before local intents; if Match returns true, its
// Handle result is published as the turn's sole outbound response and no
// turn is recorded (spec §4.G step 1).
type SlashCommand struct {
	Match  func(content string) bool
	Handle func(ctx context.Context, msg bus.InboundMessage) string
}

// LocalIntent bypasses the backend entirely: matched intents call the
// Plugin Supervisor and publish a canned markdown response plus a
// stream-end marker (spec §4.G step 2). Intents are checked in slice order
// ("priority order").
type LocalIntent struct {
	Name   string
	Match  func(content string) bool
	Handle func(ctx context.Context, msg bus.InboundMessage) string
}

// Dependencies bundles the constructed, already-wired collaborators a Loop
// needs. There are no package-level singletons anywhere in this tree
// (REDESIGN FLAG, spec §9) — every Loop is built from an explicit
// Dependencies value, typically assembled once in cmd/pocketpaw/serve.go's
// buildApp.
type Dependencies struct {
	Bus          bus.Bus
	Memory       memory.Store
	Router       Router
	Identity     string
	Capabilities []string
	Facts        func(ctx context.Context, key bus.SessionKey) []contextbuilder.Fact
	FactBudget   int

	SlashCommands []SlashCommand
	LocalIntents  []LocalIntent

	MaxConcurrentConversations int
	HistoryLimit                int
	Log                         *slog.Logger
}

// sessionSlot serializes turns for one SessionKey: a second arrival for the
// same key queues behind the in-flight one rather than running concurrently
// (spec §4.G concurrency policy).
type sessionSlot struct {
	mu      sync.Mutex
	busy    bool
	pending []bus.InboundMessage
	cancel  context.CancelFunc
}

// Loop is the bus consumer described in spec §4.G.
type Loop struct {
	deps Dependencies
	log  *slog.Logger

	sem chan struct{}

	slotsMu sync.Mutex
	slots   map[bus.SessionKey]*sessionSlot
}

// New constructs a Loop. deps.MaxConcurrentConversations <= 0 means
// unbounded (no semaphore).
func New(deps Dependencies) *Loop {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		deps:  deps,
		log:   log,
		slots: make(map[bus.SessionKey]*sessionSlot),
	}
	if deps.MaxConcurrentConversations > 0 {
		l.sem = make(chan struct{}, deps.MaxConcurrentConversations)
	}
	return l
}

// Run consumes the bus until ctx is cancelled. Each inbound message is
// dispatched to its own goroutine; different SessionKeys run in parallel
// (bounded by the global semaphore), the same SessionKey never runs two
// turns at once.
func (l *Loop) Run(ctx context.Context) {
	for {
		msg, ok := l.deps.Bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		l.dispatch(ctx, msg)
	}
}

func (l *Loop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	slot := l.slotFor(msg.Session)

	slot.mu.Lock()
	if slot.busy {
		slot.pending = append(slot.pending, msg)
		slot.mu.Unlock()
		return
	}
	slot.busy = true
	slot.mu.Unlock()

	go l.runChain(ctx, slot, msg)
}

func (l *Loop) slotFor(key bus.SessionKey) *sessionSlot {
	l.slotsMu.Lock()
	defer l.slotsMu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &sessionSlot{}
		l.slots[key] = s
	}
	return s
}

// runChain processes msg and then drains any messages that queued behind it
// while it ran, one at a time, in arrival order.
func (l *Loop) runChain(ctx context.Context, slot *sessionSlot, msg bus.InboundMessage) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}

	l.processOne(ctx, slot, msg)
	if l.sem != nil {
		<-l.sem
	}

	for {
		slot.mu.Lock()
		if len(slot.pending) == 0 {
			slot.busy = false
			slot.mu.Unlock()
			return
		}
		next := slot.pending[0]
		slot.pending = slot.pending[1:]
		slot.mu.Unlock()

		if l.sem != nil {
			select {
			case l.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		l.processOne(ctx, slot, next)
		if l.sem != nil {
			<-l.sem
		}
	}
}

// Stop cancels the in-flight turn for one SessionKey, if any. Cancellation
// is scoped to that SessionKey only (spec §4.G).
func (l *Loop) Stop(key bus.SessionKey) {
	l.slotsMu.Lock()
	slot, ok := l.slots[key]
	l.slotsMu.Unlock()
	if !ok {
		return
	}
	slot.mu.Lock()
	cancel := slot.cancel
	slot.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (l *Loop) processOne(ctx context.Context, slot *sessionSlot, msg bus.InboundMessage) {
	turnCtx, span := tracer.Start(ctx, "agentloop.turn")
	defer span.End()

	turnCtx, cancel := context.WithCancel(turnCtx)
	slot.mu.Lock()
	slot.cancel = cancel
	slot.mu.Unlock()
	defer cancel()

	// Step 1: slash commands.
	for _, sc := range l.deps.SlashCommands {
		if sc.Match(msg.Content) {
			reply := sc.Handle(turnCtx, msg)
			l.publishFinal(turnCtx, msg.Session, reply)
			return
		}
	}

	// Step 2: local intents, priority order.
	for _, intent := range l.deps.LocalIntents {
		if intent.Match(msg.Content) {
			reply := intent.Handle(turnCtx, msg)
			l.publishFinal(turnCtx, msg.Session, reply)
			return
		}
	}

	// Step 3: write user turn to memory.
	now := time.Now()
	if l.deps.Memory != nil {
		if err := l.deps.Memory.AddToSession(turnCtx, msg.Session, memory.Turn{
			Role: memory.RoleUser, Content: msg.Content, CreatedAt: now,
		}); err != nil {
			l.log.Warn("agentloop.memory.write_failed", "session", msg.Session.String(), "error", err)
		}
	}

	// Step 4: build system prompt + compacted history.
	systemPrompt, history := l.buildContext(turnCtx, msg.Session)

	// Step 5: run the backend and forward events.
	l.runTurn(turnCtx, msg, systemPrompt, history)
}

func (l *Loop) buildContext(ctx context.Context, key bus.SessionKey) (string, []backend.HistoryTurn) {
	var facts []contextbuilder.Fact
	if l.deps.Facts != nil {
		facts = l.deps.Facts(ctx, key)
	}
	prompt := contextbuilder.BuildSystemPrompt(contextbuilder.Input{
		Identity:     l.deps.Identity,
		Capabilities: l.deps.Capabilities,
		Facts:        facts,
		FactBudget:   l.deps.FactBudget,
	})

	var history []backend.HistoryTurn
	if l.deps.Memory != nil {
		limit := l.deps.HistoryLimit
		if limit <= 0 {
			limit = 20
		}
		turns, err := l.deps.Memory.GetCompactedHistory(ctx, key, limit)
		if err != nil {
			l.log.Warn("agentloop.memory.read_failed", "session", key.String(), "error", err)
		}
		for _, t := range turns {
			history = append(history, backend.HistoryTurn{Role: string(t.Role), Content: t.Content})
		}
	}
	return prompt, history
}

func (l *Loop) runTurn(ctx context.Context, msg bus.InboundMessage, systemPrompt string, history []backend.HistoryTurn) {
	events := l.deps.Router.Run(ctx, backend.RunRequest{
		Message:      msg.Content,
		SystemPrompt: systemPrompt,
		History:      history,
		Session:      msg.Session,
	})

	var assistantText strings.Builder
	for evt := range events {
		switch evt.Type {
		case agentevent.Message:
			assistantText.WriteString(evt.Content)
			l.deps.Bus.PublishOutbound(ctx, bus.OutboundMessage{
				Session: msg.Session, Content: evt.Content, IsStreamChunk: true,
			})
		case agentevent.Thinking:
			l.deps.Bus.PublishSystem(ctx, bus.SystemEvent{
				Session: msg.Session, Type: bus.SystemEventThinking, Payload: evt.Metadata,
			})
		case agentevent.ToolUse:
			l.deps.Bus.PublishSystem(ctx, bus.SystemEvent{
				Session: msg.Session, Type: bus.SystemEventToolStart, Payload: evt.Metadata,
			})
		case agentevent.TokenUsage:
			l.deps.Bus.PublishSystem(ctx, bus.SystemEvent{
				Session: msg.Session, Type: bus.SystemEventTokenUsage, Payload: evt.Metadata,
			})
		case agentevent.ToolResult:
			l.deps.Bus.PublishSystem(ctx, bus.SystemEvent{
				Session: msg.Session, Type: bus.SystemEventToolResult, Payload: evt.Metadata,
			})
			if firstLine, ok := searchHeaderFirstLine(evt.Content); ok {
				l.deps.Bus.PublishOutbound(ctx, bus.OutboundMessage{
					Session: msg.Session, Content: firstLine, IsStreamChunk: true,
				})
				assistantText.WriteString(firstLine)
			}
		case agentevent.Error:
			l.deps.Bus.PublishSystem(ctx, bus.SystemEvent{
				Session: msg.Session, Type: bus.SystemEventError, Payload: evt.Content,
			})
		case agentevent.Done:
			// handled after the loop
		}
	}

	l.deps.Bus.PublishOutbound(ctx, bus.OutboundMessage{Session: msg.Session, IsStreamEnd: true})
	l.deps.Bus.PublishSystem(ctx, bus.SystemEvent{Session: msg.Session, Type: bus.SystemEventDone})

	if ctx.Err() != nil {
		// Stop() cancelled this turn: no assistant turn is recorded for a
		// partial, user-abandoned response (pocketerr.Cancelled never
		// surfaces as an AgentEvent, only as the reason memory isn't written).
		l.log.Debug("agentloop.turn.cancelled", "session", msg.Session.String(), "reason", pocketerr.Cancelled)
		return
	}

	if l.deps.Memory != nil {
		if err := l.deps.Memory.AddToSession(ctx, msg.Session, memory.Turn{
			Role: memory.RoleAssistant, Content: assistantText.String(), CreatedAt: time.Now(),
		}); err != nil {
			l.log.Warn("agentloop.memory.write_failed", "session", msg.Session.String(), "error", err)
		}
	}
}

func (l *Loop) publishFinal(ctx context.Context, key bus.SessionKey, content string) {
	l.deps.Bus.PublishOutbound(ctx, bus.OutboundMessage{Session: key, Content: content, IsStreamChunk: true})
	l.deps.Bus.PublishOutbound(ctx, bus.OutboundMessage{Session: key, IsStreamEnd: true})
}

// searchHeaderFirstLine reports whether content's first line is a web-search
// response header ("PocketPaw - Search <Provider> - <date>") and, if so,
// returns it.
func searchHeaderFirstLine(content string) (string, bool) {
	nl := strings.IndexByte(content, '\n')
	first := content
	if nl >= 0 {
		first = content[:nl]
	}
	if strings.HasPrefix(first, webSearchHeaderPrefix) {
		return first, true
	}
	return "", false
}
