// Package richtext reads message bodies stored as Quill delta JSON.
package richtext

import (
	"encoding/json"
	"strings"
)

// Op is one delta operation. Insert is a string for text and an object
// for embeds such as images or mentions.
type Op struct {
	Insert     any            `json:"insert"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Delta struct {
	Ops []Op `json:"ops"`
}

// Parse decodes a delta body. Bodies that are not delta JSON are returned
// as a single text insert.
func Parse(body string) Delta {
	var delta Delta
	if err := json.Unmarshal([]byte(body), &delta); err != nil || delta.Ops == nil {
		return Delta{Ops: []Op{{Insert: body}}}
	}
	return delta
}

// PlainText returns the text content of a body with embeds dropped and
// surrounding whitespace trimmed.
func PlainText(body string) string {
	var b strings.Builder
	for _, op := range Parse(body).Ops {
		switch insert := op.Insert.(type) {
		case string:
			b.WriteString(insert)
		case map[string]any:
			if mention, ok := insert["mention"].(map[string]any); ok {
				if value, ok := mention["value"].(string); ok {
					b.WriteString("@" + value)
				}
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Snippet returns at most limit runes of the plain text, ending in an
// ellipsis when cut.
func Snippet(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
