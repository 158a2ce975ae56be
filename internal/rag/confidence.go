package rag

import (
	"math"
	"strings"

	"github.com/54b3r/pagerag/internal/budget"
)

// uncertainMarkers halve the confidence of any answer containing them.
var uncertainMarkers = []string{
	"모르겠",
	"확실하지",
	"알 수 없",
	"정보가 없",
	"not sure",
	"don't know",
	"cannot find",
	"unclear",
	"uncertain",
	"no information",
}

// AssessConfidence scores an answer in [0,1] from its length, the mean
// similarity and count of the chunks it was grounded on, and whether it
// hedges. An empty chunk list counts as a mean similarity of zero.
func AssessConfidence(answer string, chunks []RetrievedChunk) float64 {
	c := 0.5

	n := budget.Chars(answer)
	if n > 100 {
		c += 0.1
	}
	if n > 300 {
		c += 0.1
	}

	avg := 0.0
	if len(chunks) > 0 {
		for _, ch := range chunks {
			avg += ch.Similarity
		}
		avg /= float64(len(chunks))
	}
	c += (avg - 0.7) * 0.5

	if len(chunks) >= 3 {
		c += 0.1
	}
	if len(chunks) >= 5 {
		c += 0.1
	}

	lower := strings.ToLower(answer)
	for _, m := range uncertainMarkers {
		if strings.Contains(lower, m) {
			c *= 0.5
			break
		}
	}

	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}
