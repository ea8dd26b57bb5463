package enrich

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ExtractJSON pulls a JSON object out of model output and unmarshals it
// into dst. It strips markdown code fences, locates the outermost
// object, and removes trailing commas before the final parse.
func ExtractJSON(raw string, dst any) error {
	s := strings.TrimSpace(raw)

	// Strip ```json ... ``` fences.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	// Locate the outermost object in case the model added prose.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}
	s = s[start : end+1]

	s = stripTrailingCommas(s)

	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// stripTrailingCommas removes commas that directly precede a closing
// brace or bracket, outside of string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
