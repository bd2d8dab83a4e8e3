// Package json recovers JSON values that models wrap in prose or markdown
// fences, as happens with tool-call arguments and structured answers.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the first complete JSON object or array in text.
// It accepts:
//  1. A bare JSON value
//  2. A value inside a ```json or ``` fence
//  3. A value surrounded by commentary
//
// Braces inside string literals are skipped while scanning.
func Extract(text string) (string, error) {
	text = stripFence(text)
	if json.Valid([]byte(text)) {
		return text, nil
	}

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if end := matchClose(text, i); end > i {
			candidate := text[i : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	preview := text
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview)
}

// Decode extracts the JSON in text and unmarshals it into T.
func Decode[T any](text string) (T, error) {
	var result T
	raw, err := Extract(text)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// RecoverObject returns raw unchanged when it is valid JSON. Otherwise it
// returns the first JSON object embedded in it, or raw when there is none.
func RecoverObject(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || json.Valid(trimmed) {
		return raw
	}
	extracted, err := Extract(string(trimmed))
	if err != nil || !strings.HasPrefix(extracted, "{") {
		return raw
	}
	return json.RawMessage(extracted)
}

// stripFence removes a surrounding ```json ... ``` or ``` ... ``` fence.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 && !strings.ContainsAny(trimmed[:nl], "{[") {
		trimmed = trimmed[nl+1:] // language tag
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// matchClose returns the index of the bracket closing text[start], or -1.
func matchClose(text string, start int) int {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
