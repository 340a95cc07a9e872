package contextbuilder

import (
	"strings"
	"testing"
	"time"
)

func TestBuildSystemPromptOrderAndTruncation(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prompt := BuildSystemPrompt(Input{
		Identity:     "You are PocketPaw.",
		Capabilities: []string{"shell", "web_search"},
		Facts: []Fact{
			{Content: "most recent", Tokens: 5},
			{Content: "older", Tokens: 5},
			{Content: "oldest, should be dropped", Tokens: 5},
		},
		FactBudget: 10,
		Now:        now,
	})

	idIdx := strings.Index(prompt, "You are PocketPaw.")
	capIdx := strings.Index(prompt, "Capabilities:")
	factIdx := strings.Index(prompt, "Known facts:")
	timeIdx := strings.Index(prompt, "Current time:")

	if !(idIdx < capIdx && capIdx < factIdx && factIdx < timeIdx) {
		t.Fatalf("sections out of order:\n%s", prompt)
	}
	if strings.Contains(prompt, "oldest, should be dropped") {
		t.Fatalf("fact budget was not enforced:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2026-01-02T03:04:05Z") {
		t.Fatalf("time not rendered:\n%s", prompt)
	}
}

func TestBuildSystemPromptPureFunction(t *testing.T) {
	in := Input{Identity: "id", Now: time.Unix(0, 0).UTC()}
	a := BuildSystemPrompt(in)
	b := BuildSystemPrompt(in)
	if a != b {
		t.Fatalf("not pure: %q vs %q", a, b)
	}
}
