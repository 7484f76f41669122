// Package jsonio provides helpers for newline-delimited JSON streams.
package jsonio

import (
	"encoding/json"
	"strings"
)

// IsJSONObjectLine reports whether a trimmed line looks like a complete
// JSON object. Lines that merely start with '{' but fail to parse are
// treated as plain text.
func IsJSONObjectLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	return json.Valid([]byte(trimmed))
}

// ExtractLastJSONLine returns the last line of output that parses as a
// JSON object. Child processes interleave diagnostics with protocol
// lines, so the last valid object is the authoritative one. Returns
// empty string when no line qualifies.
func ExtractLastJSONLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if IsJSONObjectLine(trimmed) {
			return trimmed
		}
	}
	return ""
}

// DecodeObjectLine unmarshals a single protocol line into a generic map.
// Returns nil when the line is not a JSON object.
func DecodeObjectLine(line string) map[string]json.RawMessage {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil
	}
	return obj
}
