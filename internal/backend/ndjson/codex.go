package ndjson

import "github.com/peopleinfo/pocketpaw/internal/agentevent"

// itemType reads the "type" field of a nested "item" object, the shape
// codex-like CLIs use for item.started/item.completed lines.
func itemType(l Line) string {
	item, ok := l.Raw["item"].(map[string]any)
	if !ok {
		return ""
	}
	t, _ := item["type"].(string)
	return t
}

func itemText(l Line, field string) string {
	item, ok := l.Raw["item"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := item[field].(string)
	return v
}

// CodexTable is the NDJSON type / item-type → AgentEvent mapping named in
// spec §4.E for Codex-like CLI backends. cmd/pocketpaw reuses it unchanged
// for its claude and gemini subprocess backends as well.
var CodexTable = Table{
	{
		Name: "turn.completed -> token_usage",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "turn.completed" {
				return nil
			}
			usage, _ := l.Raw["usage"].(map[string]any)
			return []agentevent.Event{{Type: agentevent.TokenUsage, Metadata: map[string]any{"usage": usage}}}
		},
	},
	{
		Name: "turn.failed -> error",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "turn.failed" {
				return nil
			}
			msg, _ := l.Raw["error"].(string)
			return []agentevent.Event{{Type: agentevent.Error, Content: msg}}
		},
	},
	{
		Name: "item.started(command_execution) -> tool_use(shell)",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "item.started" || itemType(l) != "command_execution" {
				return nil
			}
			return []agentevent.Event{{Type: agentevent.ToolUse, Metadata: map[string]any{"tool": agentevent.ToolCall{Name: "shell"}}}}
		},
	},
	{
		Name: "item.started(file_change) -> tool_use(file_edit)",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "item.started" || itemType(l) != "file_change" {
				return nil
			}
			return []agentevent.Event{{Type: agentevent.ToolUse, Metadata: map[string]any{"tool": agentevent.ToolCall{Name: "file_edit"}}}}
		},
	},
	{
		Name: "item.completed(agent_message) -> message",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "item.completed" || itemType(l) != "agent_message" {
				return nil
			}
			return []agentevent.Event{{Type: agentevent.Message, Content: itemText(l, "text")}}
		},
	},
	{
		Name: "item.completed(reasoning) -> thinking",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "item.completed" || itemType(l) != "reasoning" {
				return nil
			}
			return []agentevent.Event{{Type: agentevent.Thinking, Content: itemText(l, "text")}}
		},
	},
	{
		Name: "error -> error (unless transient, handled by caller)",
		Match: func(l Line) []agentevent.Event {
			if l.Type != "error" {
				return nil
			}
			msg, _ := l.Raw["message"].(string)
			return []agentevent.Event{{Type: agentevent.Error, Content: msg}}
		},
	},
}
