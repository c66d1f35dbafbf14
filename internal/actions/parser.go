package actions

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Action is one decoded action block. Raw keeps the full JSON payload
// for the handler to decode into its own parameter struct.
type Action struct {
	Type string
	Raw  json.RawMessage
}

// ParseResult is the outcome of extracting action blocks from text.
type ParseResult struct {
	CleanText    string
	Actions      []Action
	Unrecognized []string
}

var actionBlockRe = regexp.MustCompile(`(?s)<discord-action>\s*(\{.*?\})\s*</discord-action>`)

// Parse extracts every <discord-action>{…}</discord-action> block from
// text. Blocks with unknown types or undecodable payloads are stripped
// and their types recorded. CleanText is the input with all blocks
// removed.
func Parse(text string) ParseResult {
	var result ParseResult
	matches := actionBlockRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		result.CleanText = text
		return result
	}

	var clean strings.Builder
	last := 0
	for _, m := range matches {
		clean.WriteString(text[last:m[0]])
		last = m[1]

		payload := json.RawMessage(text[m[2]:m[3]])
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
			result.Unrecognized = append(result.Unrecognized, "invalid")
			continue
		}
		if _, ok := CategoryOf(head.Type); !ok {
			result.Unrecognized = append(result.Unrecognized, head.Type)
			continue
		}
		result.Actions = append(result.Actions, Action{Type: head.Type, Raw: payload})
	}
	clean.WriteString(text[last:])
	result.CleanText = clean.String()
	return result
}

// HasProse reports whether text contains anything beyond whitespace.
func HasProse(text string) bool {
	return strings.TrimSpace(text) != ""
}

// RenderBlock formats an action back to its wire shape. Used by tests
// and by the follow-up prompt builder.
func RenderBlock(a Action) string {
	return "<discord-action>" + string(a.Raw) + "</discord-action>"
}
