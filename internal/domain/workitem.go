package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// OutputExt is the extension carried by every per-item output record.
const OutputExt = ".json"

// WorkItem is one unit of input for a stage. Index is the item's only
// identity; indices are dense 0..N-1 and map 1:1 onto output record names.
type WorkItem[P any] struct {
	// Index is the position of the item in the stage manifest.
	Index int `json:"index"`

	// Payload is whatever the stage needs to process the item.
	Payload P `json:"payload"`
}

// NewWorkItems builds the work item set for a manifest, assigning each
// payload its manifest position as index.
func NewWorkItems[P any](payloads []P) []WorkItem[P] {
	items := make([]WorkItem[P], len(payloads))
	for i, p := range payloads {
		items[i] = WorkItem[P]{Index: i, Payload: p}
	}
	return items
}

// ItemAt returns the item at index, or an error wrapping
// ErrIndexOutOfRange.
func ItemAt[P any](items []WorkItem[P], index int) (WorkItem[P], error) {
	if index < 0 || index >= len(items) {
		return WorkItem[P]{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(items))
	}
	return items[index], nil
}

// Indices returns the dense index range 0..n-1.
func Indices(n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// OutputName returns the record name for the item at index.
func OutputName(index int) string { return fmt.Sprintf("%d%s", index, OutputExt) }

// ParseOutputName is the inverse of OutputName. It reports false for names
// that are not of the form "{index}.json" with a non-negative decimal index.
func ParseOutputName(name string) (int, bool) {
	stem, ok := strings.CutSuffix(name, OutputExt)
	if !ok || stem == "" {
		return 0, false
	}
	// Reject signs, whitespace and leading zeros so the mapping stays 1:1.
	for _, r := range stem {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	if len(stem) > 1 && stem[0] == '0' {
		return 0, false
	}
	idx, err := strconv.Atoi(stem)
	if err != nil {
		return 0, false
	}
	return idx, true
}
