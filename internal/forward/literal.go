package forward

import (
	"encoding/json"
	"strings"
)

// decodeLiteral best-effort decodes a string that may itself be a serialized
// structure. Some backends stuff a Python repr of their error into the
// "message" field — e.g. "{'error': 'rate limited'}" — and clients expect the
// structure, not the repr.
//
// Exactly one secondary decode is attempted: JSON first, then a Python-literal
// to JSON transliteration. When neither parses the raw string is returned
// unchanged.
func decodeLiteral(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		// A bare JSON string is not a nested structure; keep the original.
		if _, isString := v.(string); !isString {
			return v
		}
		return s
	}

	if err := json.Unmarshal([]byte(pythonLiteralToJSON(trimmed)), &v); err == nil {
		if _, isString := v.(string); !isString {
			return v
		}
	}

	return s
}

// pythonLiteralToJSON transliterates the common subset of Python literal
// syntax into JSON: single-quoted strings, True/False/None. Anything beyond
// that is left as-is and will simply fail the subsequent JSON parse.
func pythonLiteralToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		c := s[i]
		switch c {
		case '\'', '"':
			quoted, next := readPythonString(s, i)
			b.WriteString(quoted)
			i = next
		default:
			if replaced, next, ok := readBareWord(s, i); ok {
				b.WriteString(replaced)
				i = next
			} else {
				b.WriteByte(c)
				i++
			}
		}
	}

	return b.String()
}

// readPythonString consumes a quoted string starting at i and returns it as a
// JSON double-quoted string plus the index past the closing quote.
func readPythonString(s string, i int) (string, int) {
	quote := s[i]
	var b strings.Builder
	b.WriteByte('"')
	i++

	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			esc := s[i+1]
			if esc == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			i += 2
		case c == quote:
			b.WriteByte('"')
			return b.String(), i + 1
		case c == '"':
			b.WriteString(`\"`)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}

	// Unterminated string; emit what we have so the JSON parse fails cleanly.
	b.WriteByte('"')
	return b.String(), i
}

var bareWords = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "null",
}

func readBareWord(s string, i int) (replacement string, next int, ok bool) {
	for word, jsonWord := range bareWords {
		if strings.HasPrefix(s[i:], word) {
			end := i + len(word)
			if end == len(s) || !isIdentChar(s[end]) {
				return jsonWord, end, true
			}
		}
	}
	return "", i, false
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
