// Package prune keeps provider-bound context inside budget: per-call trace
// trimming and staged reduction of the post-run report. Nothing here ever
// mutates a logged envelope; every reduction works on copies.
package prune

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// charsPerToken calibrates the size heuristic (~4 characters per token).
const charsPerToken = 4

// EstimateSize approximates the token cost of any serializable value.
// No tokenizer; the serialized length over the calibration factor is close
// enough for budget decisions.
func EstimateSize(v any) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return utf8.RuneCountInString(fmt.Sprint(v)) / charsPerToken
	}
	return len(raw) / charsPerToken
}
