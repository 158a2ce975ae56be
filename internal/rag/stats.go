package rag

import "github.com/54b3r/pagerag/internal/budget"

// ComputeStats summarises chunks. Lengths are counted in runes and the token
// total uses the shared character heuristic.
func ComputeStats(chunks []Chunk) Stats {
	if len(chunks) == 0 {
		return Stats{}
	}
	total := 0
	for _, c := range chunks {
		total += budget.Chars(c.ChunkText)
	}
	return Stats{
		TotalChunks:    len(chunks),
		AvgChunkLength: float64(total) / float64(len(chunks)),
		TotalTokens:    budget.EstimateTokens(total),
	}
}
