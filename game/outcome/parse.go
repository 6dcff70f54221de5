// Package outcome parses untrusted model text into a validated turn
// outcome and normalizes it against the turn's trigger decisions.
//
// Parsing never fails. Malformed output degrades stepwise: fenced or
// embedded JSON is extracted, a narrative is salvaged from broken
// payloads, and as a last resort a placeholder narrative stands in.
// Intents survive only when the payload validates against the outcome
// schema.
package outcome

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
)

const (
	// minSalvageRunes is the shortest non-JSON output worth returning
	// verbatim as a narrative.
	minSalvageRunes = 8

	// fallbackNarrative covers output with nothing usable in it.
	fallbackNarrative = "The moment passes quietly, and the world waits for your next move."
)

// Parser validates model output against the outcome schema.
type Parser struct {
	schema *jsonschema.Schema
}

// NewParser compiles the outcome schema.
func NewParser() (*Parser, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Parser{schema: schema}, nil
}

// Parse turns one model response into a ParsedOutcome. The zero-trust
// path: extract JSON, validate, decode. Every failure mode still
// produces a non-empty narrative.
func (p *Parser) Parse(raw string) *ParsedOutcome {
	trimmed := strings.TrimSpace(raw)

	jsonStr := extractJSON(trimmed)
	if jsonStr == "" {
		return textFallback(trimmed, ErrorDecode)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return textFallback(trimmed, ErrorDecode)
	}

	if err := p.schema.Validate(doc); err != nil {
		logging.Warn("outcome: schema validation failed",
			"schema_version", SchemaVersion,
			"error", err)
		narrative := narrativeField(doc)
		if narrative == "" {
			// The object decoded but carries no usable prose. Echoing
			// raw JSON at the player is worse than a stock line.
			narrative = fallbackNarrative
		}
		return &ParsedOutcome{Narrative: narrative, ErrorType: ErrorSchema}
	}

	var decoded struct {
		Narrative string   `json:"narrative"`
		Intents   *Intents `json:"intents"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &decoded); err != nil {
		// Valid per schema but not per the Go types, a mismatch the
		// schema's open fields allow.
		return textFallback(trimmed, ErrorDecode)
	}

	narrative := strings.TrimSpace(decoded.Narrative)
	if narrative == "" {
		narrative = fallbackNarrative
	}
	return &ParsedOutcome{
		Narrative:   narrative,
		Intents:     decoded.Intents,
		SchemaValid: true,
		ErrorType:   ErrorNone,
	}
}

// textFallback recovers a narrative from non-conforming output.
func textFallback(text string, errType ErrorType) *ParsedOutcome {
	narrative := salvageNarrative(text)
	if narrative == "" && utf8.RuneCountInString(text) >= minSalvageRunes {
		narrative = text
	}
	if narrative == "" {
		narrative = fallbackNarrative
	}
	return &ParsedOutcome{Narrative: narrative, ErrorType: errType}
}

// extractJSON pulls the first JSON object out of text that may wrap it
// in markdown fences or surrounding prose. Returns "" when no valid
// object exists.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			if candidate := strings.TrimSpace(rest[:end]); isJSONObject(candidate) {
				return candidate
			}
		}
	}

	if isJSONObject(text) {
		return text
	}

	// Scan for an object embedded in prose.
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		candidate := balancedObject(text[i:])
		if candidate == "" {
			break // no closing brace anywhere past this point
		}
		if isJSONObject(candidate) {
			return candidate
		}
	}
	return ""
}

func isJSONObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}

// balancedObject returns the prefix of s up to the brace that closes
// the object opened at s[0], or "" when the object never closes.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}

// salvageNarrative pulls the value of a "narrative" key out of text
// that failed to decode, tolerating an unterminated string so that
// truncated model output still yields its prose.
func salvageNarrative(text string) string {
	idx := strings.Index(text, `"narrative"`)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(text[idx+len(`"narrative"`):], " \t\r\n")
	if !strings.HasPrefix(rest, ":") {
		return ""
	}
	rest = strings.TrimLeft(rest[1:], " \t\r\n")
	if !strings.HasPrefix(rest, `"`) {
		return ""
	}
	return strings.TrimSpace(unquoteJSON(rest[1:]))
}

// unquoteJSON reads a JSON string body up to its closing quote,
// decoding the common escapes. A missing terminator returns whatever
// accumulated.
func unquoteJSON(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			switch r {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteRune(r)
			}
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			return b.String()
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// narrativeField reads a top-level narrative string from a decoded
// object that failed schema validation.
func narrativeField(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj["narrative"].(string)
	return strings.TrimSpace(s)
}
