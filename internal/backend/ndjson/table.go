// Package ndjson provides table-driven NDJSON-line-to-AgentEvent
// translation for subprocess backends, per spec §4.E / §9 (table-driven,
// never a switch ladder — new backends are cheap to add).
package ndjson

import "github.com/peopleinfo/pocketpaw/internal/agentevent"

// Line is one decoded NDJSON object from a backend subprocess's stdout.
// Fields are generic because each backend family names them slightly
// differently; the Table below extracts what it needs per backend.
type Line struct {
	Type     string         `json:"type"`
	ItemType string         `json:"-"` // not filled in by the subprocess adapter; tables read the nested "item" object from Raw
	Raw      map[string]any `json:"-"`
}

// Mapper turns one decoded Line into zero or more AgentEvents. Returning no
// events is valid (e.g. a line this table intentionally ignores).
type Mapper func(Line) []agentevent.Event

// Table is an ordered list of (predicate, mapper) entries. Translate
// applies the first matching entry; a Line matching nothing produces no
// events (never an error — unknown lines are just dropped, as some
// backends emit progress chatter with no event of their own).
type Table []Entry

// Entry pairs a match predicate with its mapper.
type Entry struct {
	Match Mapper
	// Name documents which NDJSON type/item-type this entry exists for;
	// purely descriptive, used in tests and logs.
	Name string
}

// Translate decodes one Line through the table and returns its AgentEvents.
func (t Table) Translate(l Line) []agentevent.Event {
	for _, e := range t {
		if evts := e.Match(l); evts != nil {
			return evts
		}
	}
	return nil
}

// IsTransient reports whether an error line's text should be silently
// dropped rather than surfaced as an AgentEvent error, per the configurable
// substring list named in spec §9 ("Reconnecting", "Falling back").
func IsTransient(text string, substrings []string) bool {
	for _, s := range substrings {
		if s == "" {
			continue
		}
		if containsFold(text, s) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return nl == 0
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// DefaultTransientSubstrings is the default configuration named in spec §9.
var DefaultTransientSubstrings = []string{"Reconnecting", "Falling back"}
