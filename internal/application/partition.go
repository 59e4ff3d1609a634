package application

import "slices"

// Partition splits indices into contiguous chunks for concurrent dispatch.
//
// When len(indices) <= k a single chunk is returned. Otherwise chunks of
// len(indices)/k items start at every multiple of that size, and the last
// chunk may be shorter. The result therefore has k chunks when k divides
// the length and usually k+1 otherwise; a remainder larger than the chunk
// size spills into further chunks. Concatenating the chunks reproduces
// indices exactly. A k below 1 is treated as 1 and an empty input yields
// no chunks.
func Partition(indices []int, k int) [][]int {
	if len(indices) == 0 {
		return nil
	}
	if k < 1 || len(indices) <= k {
		k = 1
	}

	size := len(indices) / k
	chunks := make([][]int, 0, k+1)
	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		chunks = append(chunks, slices.Clone(indices[start:end]))
	}
	return chunks
}
