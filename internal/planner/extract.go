package planner

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Extract isolates the JSON object in a model response. Models wrap it in
// code fences, leak <think> blocks, or add prose around it. The second
// result is false when nothing in raw parses as a JSON object.
func Extract(raw string) (string, bool) {
	s := stripThinking(raw)
	s = stripFences(s)
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") && json.Valid([]byte(s)) {
		return s, true
	}

	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > start {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// stripThinking drops reasoning blocks some local models emit inline.
func stripThinking(s string) string {
	for {
		open := strings.Index(s, "<think>")
		if open < 0 {
			break
		}
		end := strings.Index(s[open:], "</think>")
		if end < 0 {
			break
		}
		s = s[:open] + s[open+end+len("</think>"):]
	}
	// an unmatched closing tag means the opening was cut off upstream
	if idx := strings.Index(s, "</think>"); idx >= 0 {
		s = s[idx+len("</think>"):]
	}
	return s
}

// stripFences removes Markdown code fence markers, keeping whatever
// shares a line with them.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.Contains(line, "```") {
			continue
		}
		t := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(t, "```"); ok {
			// the language tag sits right after the opening marker
			t = strings.TrimLeftFunc(rest, isLangRune)
		}
		lines[i] = strings.TrimSuffix(strings.TrimSpace(t), "```")
	}
	return strings.Join(lines, "\n")
}

func isLangRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '+' || r == '_'
}

// matchBrace returns the index of the brace closing the one at start, or
// -1. Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
