// Package contextbuilder assembles the system prompt handed to a backend
// for one turn. It is a pure function of its inputs; nothing here performs
// I/O or mutates shared state.
package contextbuilder

import (
	"strings"
	"time"
)

// Fact is one long-term memory item available to be folded into the prompt.
// Facts are ordered most-recent-first by the caller; truncation drops the
// least recent ones first when the token budget is exceeded.
type Fact struct {
	Content string
	Tokens  int // caller-estimated token cost, used for the truncation budget
}

// Input bundles everything BuildSystemPrompt needs.
type Input struct {
	Identity     string   // e.g. "You are PocketPaw, a personal AI assistant."
	Capabilities []string // capability list from the active backend (BackendInfo)
	Facts        []Fact   // long-term facts, most-recent-first
	FactBudget   int      // max total Fact tokens to include; 0 = unlimited
	Now          time.Time
}

// BuildSystemPrompt assembles, in fixed order: identity block, capability
// list, relevant long-term facts (bounded to FactBudget tokens by dropping
// least-recent facts first), and current time.
func BuildSystemPrompt(in Input) string {
	var b strings.Builder

	if in.Identity != "" {
		b.WriteString(in.Identity)
		b.WriteString("\n\n")
	}

	if len(in.Capabilities) > 0 {
		b.WriteString("Capabilities:\n")
		for _, c := range in.Capabilities {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if facts := truncateFacts(in.Facts, in.FactBudget); len(facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range facts {
			b.WriteString("- ")
			b.WriteString(f.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	b.WriteString("Current time: ")
	b.WriteString(now.UTC().Format(time.RFC3339))
	b.WriteString("\n")

	return b.String()
}

// truncateFacts keeps facts from the front of the slice (most-recent) until
// adding the next one would exceed budget. budget<=0 means unlimited.
func truncateFacts(facts []Fact, budget int) []Fact {
	if budget <= 0 {
		return facts
	}
	spent := 0
	for i, f := range facts {
		spent += f.Tokens
		if spent > budget {
			return facts[:i]
		}
	}
	return facts
}
