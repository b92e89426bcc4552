package oracle

import (
	"errors"
	"strings"

	"github.com/bytedance/sonic"
)

// ErrNoJSON indicates the completion contained no JSON object at all.
var ErrNoJSON = errors.New("no JSON object in completion")

// UnmarshalLoose extracts the first JSON object from a completion and
// unmarshals it into out. Models frequently wrap JSON in markdown fences or
// surround it with prose; both are tolerated. Anything that still fails to
// parse is an error the caller converts into its typed fallback.
func UnmarshalLoose(text string, out any) error {
	return sonic.Unmarshal([]byte(ExtractJSON(text)), out)
}

// ExtractJSON strips markdown fences and returns the first balanced
// top-level JSON object in text, or the trimmed text when none is found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+len("```"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	text = strings.TrimSpace(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
