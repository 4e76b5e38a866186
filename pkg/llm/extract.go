package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var errInvalidStructuredOutput = errors.New("invalid structured output")

// ExtractJSON pulls the first JSON value out of model output. It strips fenced
// code blocks, skips any text before the first '{' or '[', then scans
// balanced delimiters and discards anything after the outermost closing one.
// Returns the parsed value or an invalid_output error.
func ExtractJSON(text string) (json.RawMessage, error) {
	content := stripCodeFences(text)
	content = strings.TrimSpace(content)

	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return nil, NewInvalidOutputError(errInvalidStructuredOutput)
	}
	content = content[start:]

	end := balancedEnd(content)
	if end < 0 {
		return nil, NewInvalidOutputError(errInvalidStructuredOutput)
	}
	candidate := content[:end]

	if !json.Valid([]byte(candidate)) {
		return nil, NewInvalidOutputError(errInvalidStructuredOutput)
	}
	return json.RawMessage(candidate), nil
}

// ExtractJSONInto unmarshals the extracted JSON value into v.
func ExtractJSONInto(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewInvalidOutputError(err)
	}
	return nil
}

// stripCodeFences removes markdown code fences, keeping their inner content.
// "```json\n{...}\n```" becomes "{...}".
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	idx := strings.Index(trimmed, "```")
	if idx < 0 {
		return trimmed
	}
	rest := trimmed[idx+3:]
	// Drop an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{[") {
			rest = rest[nl+1:]
		}
	}
	if closing := strings.Index(rest, "```"); closing >= 0 {
		rest = rest[:closing]
	}
	return strings.TrimSpace(rest)
}

// balancedEnd returns the index just past the outermost closing delimiter of
// the JSON value starting at s[0] ('{' or '['), or -1 if never balanced.
// String literals and escapes are honored so braces inside strings don't count.
func balancedEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
