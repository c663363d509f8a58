// internal/agent/extract.go
package agent

import (
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// The backends this agent talks to are not reliable JSON emitters: plans come
// back wrapped in prose, fenced in markdown, sprinkled with comments, or cut
// off mid-array by a token limit. ExtractPlan is a pure text-processing
// pipeline that pulls a syntactically valid action array out of such a blob,
// or returns nil. It never panics.

// fencedBlockRegex matches a markdown code fence and captures its contents.
var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractPlan extracts a list of abstract actions from arbitrary model text.
// Actions with an unrecognized kind are dropped; if nothing valid remains the
// result is nil.
func ExtractPlan(text string) []AbstractAction {
	span := extractArraySpan(text)
	if span == "" {
		return nil
	}

	span = cleanJSON(span)

	var actions []AbstractAction
	if err := json.Unmarshal([]byte(span), &actions); err != nil {
		return nil
	}

	valid := actions[:0]
	for _, a := range actions {
		if KnownKind(a.Kind) {
			valid = append(valid, a)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	return valid
}

// extractArraySpan locates the JSON array within the text, applying the
// ordered salvage attempts. It returns "" when no array-like span exists.
func extractArraySpan(text string) string {
	// 1. Prefer a fenced code block that contains an array.
	for _, m := range fencedBlockRegex.FindAllStringSubmatch(text, -1) {
		if strings.Contains(m[1], "[") {
			text = m[1]
			break
		}
	}

	start := strings.Index(text, "[")
	if start < 0 {
		// 4. No array at all: if the text still talks about actions,
		// wrap the object span as a single-element array.
		return wrapBareObject(text)
	}

	// 2. Scan forward tracking bracket balance, respecting string quoting
	// and escapes, to find the matching close.
	if end := matchingBracket(text, start); end >= 0 {
		return text[start : end+1]
	}

	// 3. Truncated output: cut back to the last complete object and
	// synthesize the closing bracket.
	tail := text[start:]
	if cut := strings.LastIndex(tail, "}"); cut >= 0 {
		return tail[:cut+1] + "]"
	}
	return ""
}

// matchingBracket returns the index of the ']' matching the '[' at start, or
// -1. Brackets inside JSON strings are ignored.
func matchingBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// wrapBareObject handles model output that produced one or more action
// objects without any array brackets.
func wrapBareObject(text string) string {
	if !strings.Contains(text, `"action"`) {
		return ""
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return ""
	}
	return "[" + text[first:last+1] + "]"
}

// cleanJSON repairs the habitual damage: control characters, // and /* */
// comments, duplicated or stray separators, trailing commas. All passes are
// string-aware so repairs never touch quoted content.
func cleanJSON(s string) string {
	s = stripCommentsAndControls(s)
	return fixSeparators(s)
}

func stripCommentsAndControls(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++ // Skip the trailing '/'.
		case c < 0x20 && c != '\n' && c != '\t':
			// Drop control characters outright.
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func fixSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
			b.WriteByte(c)
		case ',':
			// Collapse duplicated commas and drop trailing ones.
			next := nextNonSpace(s, i+1)
			if next < len(s) && (s[next] == ',' || s[next] == ']' || s[next] == '}') {
				continue
			}
			b.WriteByte(c)
		case '}':
			b.WriteByte(c)
			// Two adjacent objects missing their separator.
			next := nextNonSpace(s, i+1)
			if next < len(s) && s[next] == '{' {
				b.WriteByte(',')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func nextNonSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	return i
}
