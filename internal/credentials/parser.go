package credentials

import (
	"strings"
)

// ParseResult holds the outcome of parsing free-form credential text
type ParseResult struct {
	Valid   []string `json:"valid"`
	Invalid []string `json:"invalid"`
}

// Empty reports whether nothing at all was supplied, which callers treat as "all"
func (r ParseResult) Empty() bool {
	return len(r.Valid) == 0 && len(r.Invalid) == 0
}

// Parse splits text on commas, semicolons, newlines and whitespace and
// returns the distinct valid UIDs in first-seen order plus the rejected tokens.
func Parse(text string) ParseResult {
	result := ParseResult{
		Valid:   []string{},
		Invalid: []string{},
	}

	seen := make(map[string]struct{})
	for _, token := range tokenize(text) {
		if !Valid(token) {
			result.Invalid = append(result.Invalid, token)
			continue
		}

		key := Key(token)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result.Valid = append(result.Valid, Normalize(token))
	}

	return result
}

func tokenize(text string) []string {
	hard := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})

	var tokens []string
	for _, chunk := range hard {
		tokens = append(tokens, strings.Fields(chunk)...)
	}
	return tokens
}

// Dedupe drops UIDs whose key was already seen, keeping the first spelling
func Dedupe(uids []string) []string {
	out := make([]string, 0, len(uids))
	seen := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		key := Key(uid)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, uid)
	}
	return out
}
