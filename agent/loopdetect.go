package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/kstost/aiexecode/llm"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// extractToolCallSignatures extracts signatures of the most recent tool
// calls from the transcript, in chronological order.
func extractToolCallSignatures(items []llm.Item, count int) []string {
	var sigs []string
	for i := len(items) - 1; i >= 0 && len(sigs) < count; i-- {
		it := items[i]
		if it.Kind == llm.ItemToolCall && it.ToolCall != nil {
			sigs = append(sigs, toolCallSignature(it.ToolCall.Name, it.ToolCall.Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks whether the last windowSize tool calls follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(items []llm.Item, windowSize int) bool {
	sigs := extractToolCallSignatures(items, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
			if !allMatch {
				break
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
