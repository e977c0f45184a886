package agent

import (
	"fmt"
	"strings"
)

// Payload caps for recorded tool results. Output beyond these is cut from
// the middle so the model keeps both the beginning and the end.
const (
	MaxStdoutChars = 8000
	MaxStderrChars = 4000
)

// Per-tool caps for string values inside the structured result object.
var toolResultCharLimits = map[string]int{
	"read_file":  50000,
	"shell":      30000,
	"grep":       20000,
	"glob":       20000,
	"edit_file":  10000,
	"write_file": 1000,
	"web_fetch":  50000,
}

const defaultResultChars = 30000

// toolResultCharLimit returns the result-object cap for a tool.
func toolResultCharLimit(toolName string) int {
	if limit, ok := toolResultCharLimits[toolName]; ok {
		return limit
	}
	return defaultResultChars
}

// boundResultStrings returns a copy of result with every string value
// capped at maxChars via head+tail truncation. Non-string values pass
// through unchanged.
func boundResultStrings(result map[string]interface{}, maxChars int) map[string]interface{} {
	if result == nil {
		return nil
	}
	out := make(map[string]interface{}, len(result))
	for k, v := range result {
		if s, ok := v.(string); ok && len(s) > maxChars {
			out[k] = TruncateMiddle(s, maxChars)
			continue
		}
		out[k] = v
	}
	return out
}

// TruncateMiddle caps s at maxChars using a head+tail split with an
// omission marker, never a naive cut.
func TruncateMiddle(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}

	half := maxChars / 2
	removed := len(s) - maxChars
	return s[:half] +
		fmt.Sprintf("\n\n[... %d characters omitted. Re-run the tool with more targeted parameters to see the full output. ...]\n\n", removed) +
		s[len(s)-half:]
}

// TruncateLines caps s at maxLines using a head/tail split.
func TruncateLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return s
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}
