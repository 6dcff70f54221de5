package logging

import "regexp"

// Secret patterns scrubbed from payload previews before they reach a log
// sink. Order matters: structured credential shapes first, the catch-all for
// long opaque strings last so it cannot mangle a match mid-pattern.
var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/=]+`)
	apiKeyPattern = regexp.MustCompile(`(?i)("?(?:api[_-]?key|authorization|token|secret)"?\s*[:=]\s*)"?[^"\s,}&]+"?`)
	skKeyPattern  = regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{8,}\b`)
	opaquePattern = regexp.MustCompile(`\b[A-Za-z0-9+/=_\-]{48,}\b`)
)

const redactedPlaceholder = "[REDACTED]"

// Redact masks credential-shaped substrings in a payload preview: bearer
// tokens, api-key assignments, provider key prefixes, and long opaque
// strings. The input is never logged raw anywhere previews are emitted.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer "+redactedPlaceholder)
	s = apiKeyPattern.ReplaceAllString(s, "${1}"+redactedPlaceholder)
	s = skKeyPattern.ReplaceAllString(s, redactedPlaceholder)
	s = opaquePattern.ReplaceAllString(s, redactedPlaceholder)
	return s
}
